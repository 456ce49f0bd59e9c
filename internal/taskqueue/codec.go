package taskqueue

import "github.com/bytedance/sonic"

// EncodeTask serializes a Task as JSON.
func EncodeTask(t Task) ([]byte, error) {
	return sonic.Marshal(&t)
}

// DecodeTask restores a Task written by EncodeTask.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := sonic.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
