package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	c := FromEnv()
	if c.Addr != ":8090" {
		t.Errorf("Addr default = %q", c.Addr)
	}
	if c.HotmapAlpha != 2.0 || c.HotmapBeta != 0.5 {
		t.Errorf("hotmap defaults = %v/%v", c.HotmapAlpha, c.HotmapBeta)
	}
	if c.UpstreamMinInterval != 15*time.Second {
		t.Errorf("UpstreamMinInterval default = %v", c.UpstreamMinInterval)
	}
	if c.RedisAddr != "" {
		t.Errorf("RedisAddr default should be empty (disables redis tier), got %q", c.RedisAddr)
	}
	if c.CoverageTopLat != 90 || c.CoverageLeftLon != -180 || c.CoverageBottomLat != -90 || c.CoverageRightLon != 180 {
		t.Errorf("coverage bbox default should be worldwide, got %v/%v/%v/%v",
			c.CoverageTopLat, c.CoverageLeftLon, c.CoverageBottomLat, c.CoverageRightLon)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("HOTMAP_ALPHA", "3.5")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("UPSTREAM_MAX_RETRIES", "3")

	c := FromEnv()
	if c.Addr != ":9999" {
		t.Errorf("Addr override = %q", c.Addr)
	}
	if c.HotmapAlpha != 3.5 {
		t.Errorf("HotmapAlpha override = %v", c.HotmapAlpha)
	}
	if c.MetricsEnabled {
		t.Errorf("MetricsEnabled override should be false")
	}
	if c.UpstreamMaxRetries != 3 {
		t.Errorf("UpstreamMaxRetries override = %d", c.UpstreamMaxRetries)
	}
}
