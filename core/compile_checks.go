package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ TokenStore      = (*MemoryTokenStore)(nil)
	_ RecordScanner   = (*MemoryTokenStore)(nil)
	_ Clock           = SystemClock{}
	_ Clock           = ClockFunc(nil)
	_ NonceSource     = RandomNonceSource{}
	_ ResourceGate    = ResourceGateFunc(nil)
	_ MetricsRecorder = NopMetricsRecorder{}
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
