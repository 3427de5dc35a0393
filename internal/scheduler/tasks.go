package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskCallReminder = "calls.reminder"

type CallReminderPayload struct {
	EventID  string `json:"eventId"`
	TenantID string `json:"tenantId"`
}

func NewCallReminderTask(payload CallReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCallReminder, data), nil
}

func ParseCallReminderPayload(task *asynq.Task) (CallReminderPayload, error) {
	var payload CallReminderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CallReminderPayload{}, err
	}
	return payload, nil
}
