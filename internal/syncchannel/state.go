package syncchannel

// State 同步通道状态
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StatePolling      State = "POLLING"
)

// States 所有状态
func States() []string {
	return []string{
		string(StateDisconnected),
		string(StateConnecting),
		string(StateConnected),
		string(StateReconnecting),
		string(StatePolling),
	}
}

func (s State) String() string {
	return string(s)
}
