package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.GRPCAddr != ":9090" {
		t.Errorf("grpc addr = %s", cfg.Server.GRPCAddr)
	}
	if cfg.Market.FundingPeriod != 8*time.Hour {
		t.Errorf("funding period = %s", cfg.Market.FundingPeriod)
	}
	if cfg.Risk.MaxLeverage != 10 {
		t.Errorf("max leverage = %d", cfg.Risk.MaxLeverage)
	}
	if cfg.Persist.BatchSize != 50 {
		t.Errorf("batch size = %d", cfg.Persist.BatchSize)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PERP_NATS_URL", "nats://broker:4222")
	t.Setenv("PERP_RISK_TRADING_FEE_BPS", "50")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("nats url = %s", cfg.NATS.URL)
	}
	if cfg.Risk.TradingFeeBps != 50 {
		t.Errorf("fee bps = %d", cfg.Risk.TradingFeeBps)
	}
}

func TestDefaultsProduceValidDomainConfig(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := cfg.Auth.Validate(); err != nil {
		t.Errorf("auth: %v", err)
	}
	if err := cfg.Risk.Params().Validate(); err != nil {
		t.Errorf("risk params: %v", err)
	}
	vcfg, err := cfg.Market.VAMMConfig()
	if err != nil {
		t.Fatalf("vamm config: %v", err)
	}
	if vcfg.BaseReserve.Sign() <= 0 || vcfg.QuoteReserve.Sign() <= 0 {
		t.Error("reserves must be positive")
	}
}
