package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hearthwatch/hearthwatch/internal/fingerprint"
	"github.com/hearthwatch/hearthwatch/pkg/llm"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// stubProvider returns a canned response or error for every Chat call.
type stubProvider struct {
	content string
	err     error
}

func (p *stubProvider) Chat(_ context.Context, _ []llm.Message, _ ...llm.CallOption) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.content}, nil
}

func TestOUITable_CuratedBeatsBulk(t *testing.T) {
	table := NewOUITable()

	r, ok := table.Classify("00:11:32:AA:BB:CC")
	require.True(t, ok)
	assert.Equal(t, "Synology", r.Manufacturer)
	assert.Equal(t, models.DeviceTypeNAS, r.DeviceType)
	assert.InDelta(t, 0.90, r.Confidence, 1e-9)

	// Bulk hits identify the vendor but not the device type.
	r, ok = table.Classify("00:50:56:01:02:03")
	require.True(t, ok)
	assert.Equal(t, "VMware", r.Manufacturer)
	assert.Equal(t, models.DeviceTypeUnknown, r.DeviceType)
	assert.InDelta(t, bulkConfidenceCap, r.Confidence, 1e-9)

	_, ok = table.Classify("FE:ED:FA:CE:00:00")
	assert.False(t, ok, "unregistered prefix should miss")

	_, ok = table.Classify("00:11")
	assert.False(t, ok, "truncated MAC should miss")
}

func TestOUITable_DashSeparatorsAccepted(t *testing.T) {
	table := NewOUITable()
	r, ok := table.Classify("b8-27-eb-11-22-33")
	require.True(t, ok)
	assert.Equal(t, "Raspberry Pi Foundation", r.Manufacturer)
}

func TestOUITable_AddBulkDoesNotShadowCurated(t *testing.T) {
	table := NewOUITable()
	table.AddBulk(map[string]string{
		"AA:AA:AA": "Acme",
		"00:11:32": "Not Synology",
	})

	r, ok := table.Classify("AA:AA:AA:00:00:01")
	require.True(t, ok)
	assert.Equal(t, "Acme", r.Manufacturer)

	r, _ = table.Classify("00:11:32:00:00:01")
	assert.Equal(t, "Synology", r.Manufacturer)
}

func TestMDNSBank_Classify(t *testing.T) {
	bank := NewMDNSBank()
	tests := []struct {
		hostname   string
		vendor     string
		deviceType models.DeviceType
	}{
		{"johns-macbook-pro", "Apple", models.DeviceTypeLaptop},
		{"living-room-appletv", "", ""}, // no rule; appletv needs the apple-tv form
		{"apple-tv-2", "Apple", models.DeviceTypeTV},
		{"chromecast-kitchen", "Google", models.DeviceTypeTV},
		{"diskstation", "Synology", models.DeviceTypeNAS},
		{"shelly1-a4cf12", "Shelly", models.DeviceTypeSmartHome},
		{"wyze-cam-v3", "Wyze", models.DeviceTypeCamera},
		{"mystery-box", "", ""},
	}
	for _, tt := range tests {
		r, ok := bank.Classify(tt.hostname)
		if tt.vendor == "" {
			assert.False(t, ok, "hostname %q should not match", tt.hostname)
			continue
		}
		require.True(t, ok, "hostname %q should match", tt.hostname)
		assert.Equal(t, tt.vendor, r.Manufacturer, "hostname %q", tt.hostname)
		assert.Equal(t, tt.deviceType, r.DeviceType, "hostname %q", tt.hostname)
	}
}

func TestDHCPTable_OrderIndependentLookup(t *testing.T) {
	table := NewDHCPTable()

	hash := fingerprint.HashDHCPOptions([]int{252, 119, 15, 6, 3, 121, 1})
	r, ok := table.Classify(hash)
	require.True(t, ok, "shuffled Apple option set should still hit")
	assert.Equal(t, "Apple", r.Manufacturer)
	assert.Equal(t, models.DeviceTypePhone, r.DeviceType)

	_, ok = table.Classify(fingerprint.HashDHCPOptions([]int{2, 4, 8, 16}))
	assert.False(t, ok)
}

func TestClassifier_LocalBestWins(t *testing.T) {
	c := New(nil, "", zap.NewNop())

	// OUI says laptop at 0.80, the hostname says MacBook at 0.90.
	r := c.Classify(context.Background(), Signals{
		MAC:          "A4:83:E7:00:11:22",
		MDNSHostname: "janes-macbook-air",
	})
	assert.Equal(t, SourceMDNS, r.Source)
	assert.Equal(t, models.DeviceTypeLaptop, r.DeviceType)
	assert.InDelta(t, 0.90, r.Confidence, 1e-9)
}

func TestClassifier_FallbackWithoutProvider(t *testing.T) {
	c := New(nil, "", zap.NewNop())

	r := c.Classify(context.Background(), Signals{MAC: "FE:ED:FA:CE:00:00"})
	assert.True(t, r.Fallback)
	assert.Equal(t, SourceFallback, r.Source)
	assert.Equal(t, models.DeviceTypeUnknown, r.DeviceType)
	assert.Equal(t, "Unknown", r.Manufacturer)
}

func TestClassifier_LLMAnswerUsedWhenLocalMisses(t *testing.T) {
	provider := &stubProvider{
		content: `{"manufacturer": "Tuya", "device_type": "smart_home", "model": "Smart Plug", "confidence": 0.7}`,
	}
	c := New(provider, "test-model", zap.NewNop())

	r := c.Classify(context.Background(), Signals{MAC: "FE:ED:FA:CE:00:00"})
	assert.Equal(t, SourceLLM, r.Source)
	assert.Equal(t, "Tuya", r.Manufacturer)
	assert.Equal(t, models.DeviceTypeSmartHome, r.DeviceType)
	assert.InDelta(t, 0.7, r.Confidence, 1e-9)
}

func TestClassifier_LLMFailuresFallThrough(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
	}{
		{"transport error", &stubProvider{err: errors.New("connection refused")}},
		{"prose response", &stubProvider{content: "I think it is a toaster."}},
		{"unknown device type", &stubProvider{content: `{"manufacturer": "X", "device_type": "toaster", "confidence": 0.9}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.provider, "test-model", zap.NewNop())
			r := c.Classify(context.Background(), Signals{MAC: "FE:ED:FA:CE:00:00"})
			assert.True(t, r.Fallback)
			assert.Equal(t, SourceFallback, r.Source)
		})
	}
}

func TestParseLLMAnswer(t *testing.T) {
	answer, err := parseLLMAnswer("```json\n{\"manufacturer\": \"Sonos\", \"device_type\": \"speaker\", \"confidence\": 0.9}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Sonos", answer.Manufacturer)

	answer, err = parseLLMAnswer(`<think>hmm, port 1883 suggests MQTT</think>
Here is my answer: {"manufacturer": "Espressif", "device_type": "iot", "confidence": 0.6} hope that helps`)
	require.NoError(t, err)
	assert.Equal(t, "Espressif", answer.Manufacturer)
	assert.Equal(t, "iot", answer.DeviceType)

	_, err = parseLLMAnswer(`{"manufacturer": "X", "confidence": 0.5}`)
	assert.Error(t, err, "missing device_type must be rejected")

	_, err = parseLLMAnswer("no structure here")
	assert.Error(t, err)

	_, err = parseLLMAnswer(`{"manufacturer": "X", "device_type": "iot"`)
	assert.Error(t, err, "unterminated object must be rejected")
}
