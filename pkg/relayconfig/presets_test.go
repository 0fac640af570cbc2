package relayconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresets(t *testing.T) {
	all := Presets()
	require.Len(t, all, 3)

	all[0].Host = "changed"
	assert.Equal(t, "smtp.gmail.com", Presets()[0].Host, "callers must not mutate the built in list")

	for _, p := range all {
		assert.True(t, p.Encryption.Valid(), p.Name)
		assert.Equal(t, 587, p.Port, p.Name)
	}
}

func TestPresetApplied(t *testing.T) {
	p, ok := PresetByName("outlook")
	require.True(t, ok)

	base := Defaults(testIdentity)
	base.Username = "relay@example.com"
	base.AuthEnabled = false

	cfg := Sanitize(p.Raw(), base)
	assert.Equal(t, "smtp-mail.outlook.com", cfg.Host)
	assert.Equal(t, 587, cfg.Port)
	assert.Equal(t, EncryptionTLS, cfg.Encryption)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, "relay@example.com", cfg.Username)

	_, ok = PresetByName("aol")
	assert.False(t, ok)
}
