package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/log"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, log.LevelInfo, cfg.Settings.LogLevel)
	assert.Equal(t, log.FormatText, cfg.Settings.LogFormat)
	assert.Empty(t, cfg.Definitions)
}

func TestDefinitionConfig_Definition(t *testing.T) {
	dc := DefinitionConfig{
		Name:        "network",
		Path:        "./definitions/network",
		AlwaysApply: true,
		TerraformVars: VarSetConfig{
			Values:    map[string]string{"cidr": "10.0.0.0/16"},
			UseGlobal: []string{"region"},
		},
		RemoteVars: VarSetConfig{
			IgnoreGlobal: []string{"legacy_id"},
		},
	}

	def := dc.Definition()
	require.NotNil(t, def)
	assert.Equal(t, "network", def.Name)
	assert.Equal(t, "./definitions/network", def.Path)
	assert.True(t, def.AlwaysApply)
	assert.Equal(t, domain.VarSet{
		Values:    map[string]string{"cidr": "10.0.0.0/16"},
		UseGlobal: []string{"region"},
	}, def.TerraformVars)
	assert.Equal(t, []string{"legacy_id"}, def.RemoteVars.IgnoreGlobal)
}
