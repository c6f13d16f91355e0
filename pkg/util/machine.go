package util

import (
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

var (
	deviceID     string
	deviceIDOnce sync.Once
)

// DeviceID app scoped machine identifier, empty when the platform gives none
// DeviceID 以应用为作用域的机器标识，平台无法提供时返回空字符串
func DeviceID(appID string) string {
	deviceIDOnce.Do(func() {
		id, err := machineid.ProtectedID(appID)
		if err == nil && len(id) >= 12 {
			deviceID = id[:12]
		}
	})
	return deviceID
}

// NewSessionID builds "<device>-<uuid>", the device part is dropped when unknown
// NewSessionID 生成 "<设备>-<uuid>" 形式的会话 ID，设备未知时省略设备部分
func NewSessionID(appID string) string {
	id := uuid.NewString()
	if dev := DeviceID(appID); dev != "" {
		return dev + "-" + id
	}
	return id
}
