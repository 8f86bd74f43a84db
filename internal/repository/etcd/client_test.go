package etcd

import (
	"encoding/json"
	"testing"

	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.uber.org/zap"
)

func TestInstanceKey(t *testing.T) {
	tests := []struct {
		app, id, want string
	}{
		{"service-cluster", "abc", "/services/service-cluster/abc"},
		{"SERVICE-CLUSTER", "10.0.0.1:5000", "/services/SERVICE-CLUSTER/10.0.0.1:5000"},
	}

	for _, tt := range tests {
		if got := InstanceKey(tt.app, tt.id); got != tt.want {
			t.Errorf("InstanceKey(%q, %q) = %q, want %q", tt.app, tt.id, got, tt.want)
		}
	}
}

func TestDecodeInstances(t *testing.T) {
	inst := Instance{
		InstanceID: "abc",
		App:        "service-cluster",
		Host:       "node-1",
		Port:       5000,
		Status:     "UP",
		HealthURL:  "http://node-1:5000/api/health/",
	}
	value, err := json.Marshal(inst)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	kvs := []*mvccpb.KeyValue{
		{Key: []byte(InstanceKey(inst.App, inst.InstanceID)), Value: value},
		{Key: []byte("/services/service-cluster/broken"), Value: []byte("{not json")},
	}

	logger, _ := zap.NewDevelopment()
	got := decodeInstances(kvs, logger)
	if len(got) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(got))
	}
	if got[0].InstanceID != "abc" || got[0].Port != 5000 || got[0].HealthURL != inst.HealthURL {
		t.Errorf("Unexpected instance: %+v", got[0])
	}
}
