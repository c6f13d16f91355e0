package app

// 版本信息变量，由构建时注入
var (
	Version   string = "0.3.0"
	GitTag    string = "2000.01.01.release"
	BuildTime string = "2000-01-01T00:00:00+0800"
)

// 应用名称常量
const (
	// Name 应用名称
	Name = "Fast Content Sync Service"
	// AppID machine id scope, keeps device ids private to this app
	// AppID machineid 的作用域，设备标识只在本应用内有效
	AppID = "fast-content-sync"
)
