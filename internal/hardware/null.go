package hardware

// NullTransport is the "no hardware" transport: the key always reads open.
// Used when the engine runs with only a keyboard or wire source.
type NullTransport struct{}

func (NullTransport) Sample() (bool, error) { return false, nil }
func (NullTransport) Close() error          { return nil }
