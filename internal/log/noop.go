package log

// Noop implements Modular but discards everything. Tests that need a
// logger but don't care about its output use it instead of wiring a real
// slog.Logger.
type Noop struct{}

func (Noop) WithFields(map[string]string) Modular { return Noop{} }
func (Noop) With(...any) Modular                   { return Noop{} }

func (Noop) Fatalf(string, ...any) {}
func (Noop) Errorf(string, ...any) {}
func (Noop) Warnf(string, ...any)  {}
func (Noop) Infof(string, ...any)  {}
func (Noop) Debugf(string, ...any) {}
func (Noop) Tracef(string, ...any) {}

func (Noop) Fatalln(string) {}
func (Noop) Errorln(string) {}
func (Noop) Warnln(string)  {}
func (Noop) Infoln(string)  {}
func (Noop) Debugln(string) {}
func (Noop) Traceln(string) {}
