package relayconfig

import "strconv"

// Preset is a well known provider's relay settings.
type Preset struct {
	Name       string     `json:"name" yaml:"name"`
	Label      string     `json:"label" yaml:"label"`
	Host       string     `json:"host" yaml:"host"`
	Port       int        `json:"port" yaml:"port"`
	Encryption Encryption `json:"encryption" yaml:"encryption"`
	Notes      string     `json:"notes,omitempty" yaml:"notes,omitempty"`
}

var presets = []Preset{
	{Name: "gmail", Label: "Gmail", Host: "smtp.gmail.com", Port: 587, Encryption: EncryptionTLS,
		Notes: "Use an app password when two-factor authentication is enabled."},
	{Name: "outlook", Label: "Outlook/Office365", Host: "smtp-mail.outlook.com", Port: 587, Encryption: EncryptionTLS},
	{Name: "yahoo", Label: "Yahoo", Host: "smtp.mail.yahoo.com", Port: 587, Encryption: EncryptionTLS,
		Notes: "Port 465 with SSL works as well."},
}

// Presets returns the built in provider presets.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// PresetByName looks a preset up by its name.
func PresetByName(name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// Raw renders the preset as form input with authentication enabled, leaving
// credentials and sender untouched when passed to Sanitize.
func (p Preset) Raw() RawInput {
	return RawInput{
		KeyHost:       p.Host,
		KeyPort:       strconv.Itoa(p.Port),
		KeyEncryption: string(p.Encryption),
		KeyAuth:       "1",
	}
}
