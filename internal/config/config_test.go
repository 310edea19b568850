package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Fares.Base != 2.5 || cfg.Fares.PerKm != 1.5 || cfg.Fares.Max != 10000 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MatchRadiusKm != 5 || cfg.Fares.TrafficFactor != 1 || cfg.EventBuffer != 256 {
		t.Fatalf("unexpected matching defaults %+v", cfg)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("FARE_BASE_RATE", "3")
	t.Setenv("FARE_PER_KM_RATE", "2.25")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("JWT_TTL", "1h")
	t.Setenv("OSRM_ENDPOINT", "http://osrm:5000/")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("TRAFFIC_FACTOR", "1.25")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Fares.Base != 3 || cfg.Fares.PerKm != 2.25 || cfg.Fares.TrafficFactor != 1.25 {
		t.Fatalf("fare overrides not applied: %+v", cfg.Fares)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.JWTTTL != time.Hour || cfg.OSRMEndpoint != "http://osrm:5000" || !cfg.RunMigrations {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadServerConfigAggregatesErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("FARE_BASE_RATE", "cheap")
	t.Setenv("TRAFFIC_FACTOR", "0")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"FARE_BASE_RATE", "TRAFFIC_FACTOR", "HTTP_READ_TIMEOUT", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadConsumerConfigRequiresDSN(t *testing.T) {
	t.Setenv("PG_DSN", "")
	if _, err := LoadConsumerConfig(); err == nil {
		t.Fatal("expected error without PG_DSN")
	}
	t.Setenv("PG_DSN", "postgres://localhost/taxi")
	t.Setenv("KAFKA_GROUP", "g1")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KafkaGroup != "g1" || cfg.KafkaTopic != "driver-locations" {
		t.Fatalf("unexpected consumer config %+v", cfg)
	}
}
