package hub

import "time"

// ExecutionEvent 一次执行状态变化的推送载荷
type ExecutionEvent struct {
	ExecutionID  string    `json:"execution_id"`
	TaskID       uint64    `json:"task_id"`
	Status       string    `json:"status"`
	RowsBefore   *int64    `json:"rows_before"`
	RowsAfter    *int64    `json:"rows_after"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Duration     *float64  `json:"duration"`
	Timestamp    time.Time `json:"timestamp"`
}

// envelope 推给前端的统一消息外壳
type envelope struct {
	Type string         `json:"type"`
	Data ExecutionEvent `json:"data"`
}

const eventTypeExecutionUpdate = "execution_update"
