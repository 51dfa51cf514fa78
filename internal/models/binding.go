package models

import "time"

// ProxyBinding is the traffic assignment the proxies follow for one
// service. Rebinding it is what "promote" means.
type ProxyBinding struct {
	Endpoint    string
	Fingerprint Fingerprint
	Handle      string
	BoundAt     time.Time
}

func (b ProxyBinding) IsZero() bool {
	return b.Endpoint == ""
}
