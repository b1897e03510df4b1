package config

import "time"

// File is the structure of the .torswitch configuration file.
//
//	TorProxy:
//	  Enable: true
//	  Address: 127.0.0.1
//	  Port: 9050
//	  ControlPort: 9051
//	  ControlPassword: secret
//	  CircuitBuildTimeoutSeconds: 60
type File struct {
	// TorProxy configures the Tor connection. A missing section keeps the defaults.
	TorProxy *TorProxySection `yaml:"TorProxy,omitempty"`

	// DatabaseDir overrides the history database directory.
	DatabaseDir *string `yaml:"DatabaseDir,omitempty"`
}

// TorProxySection holds the optional keys of the TorProxy section. Nil fields
// leave the corresponding setting untouched.
type TorProxySection struct {
	Enable                     *bool    `yaml:"Enable,omitempty"`
	Address                    *string  `yaml:"Address,omitempty"`
	Port                       *int     `yaml:"Port,omitempty"`
	ControlPort                *int     `yaml:"ControlPort,omitempty"`
	ControlPassword            *string  `yaml:"ControlPassword,omitempty"`
	CircuitBuildTimeoutSeconds *float64 `yaml:"CircuitBuildTimeoutSeconds,omitempty"`
	ProbeURL                   *string  `yaml:"ProbeURL,omitempty"`
}

// Apply copies every value present in the file onto c.
func (f *File) Apply(c *Config) {
	if f.DatabaseDir != nil {
		c.DBDir = *f.DatabaseDir
	}

	s := f.TorProxy
	if s == nil {
		return
	}
	if s.Enable != nil {
		c.Disabled = !*s.Enable
	}
	if s.Address != nil {
		c.Address = *s.Address
	}
	if s.Port != nil {
		c.Port = *s.Port
	}
	if s.ControlPort != nil {
		c.ControlPort = *s.ControlPort
	}
	if s.ControlPassword != nil {
		c.ControlPassword = *s.ControlPassword
	}
	if s.CircuitBuildTimeoutSeconds != nil {
		c.CircuitBuildTimeout = time.Duration(*s.CircuitBuildTimeoutSeconds * float64(time.Second))
	}
	if s.ProbeURL != nil {
		c.ProbeURL = *s.ProbeURL
	}
}
