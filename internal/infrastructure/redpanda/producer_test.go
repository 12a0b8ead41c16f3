package redpanda

import "testing"

func TestProducerOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProducerConfig)
		wantErr bool
	}{
		{"defaults", func(*ProducerConfig) {}, false},
		{"leader acks", func(c *ProducerConfig) { c.Acks = 1 }, false},
		{"no compression", func(c *ProducerConfig) { c.Compression = "none" }, false},
		{"bad acks", func(c *ProducerConfig) { c.Acks = 2 }, true},
		{"bad codec", func(c *ProducerConfig) { c.Compression = "brotli" }, true},
	}
	for _, tt := range tests {
		cfg := DefaultProducerConfig()
		tt.mutate(&cfg)
		opts, err := cfg.options()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && len(opts) == 0 {
			t.Errorf("%s: no options", tt.name)
		}
	}
}
