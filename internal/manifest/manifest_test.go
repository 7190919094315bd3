package manifest

import (
	"strings"
	"testing"
)

const twoWorkloads = `---
kind: Workload
metadata:
  name: web
spec:
  image: nginx:1.25
  replicas: 3
  port: 8080
  resources:
    cpu_request: 250
    cpu_limit: 500
    mem_request: 67108864
    mem_limit: 134217728
  env:
    LOG_LEVEL: debug
---
kind: Workload
metadata:
  name: worker
spec:
  image: worker:2.1
  replicas: 1
  port: 9000
`

func TestDecodeMultiDocument(t *testing.T) {
	specs, err := Decode([]byte(twoWorkloads))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}

	web := specs[0]
	if web.Name != "web" || web.Image != "nginx:1.25" || web.Replicas != 3 || web.Port != 8080 {
		t.Fatalf("unexpected web spec: %+v", web)
	}
	if web.Resources.CPURequest != 250 || web.Resources.MemLimit != 134217728 {
		t.Fatalf("unexpected resources: %+v", web.Resources)
	}
	if web.Env["LOG_LEVEL"] != "debug" {
		t.Fatalf("unexpected env: %+v", web.Env)
	}

	if specs[1].Name != "worker" || specs[1].Replicas != 1 {
		t.Fatalf("unexpected worker spec: %+v", specs[1])
	}
}

func TestDecodeRejectsForeignKind(t *testing.T) {
	doc := strings.ReplaceAll(twoWorkloads, "kind: Workload", "kind: Deployment")
	if _, err := Decode([]byte(doc)); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestDecodeEmpty(t *testing.T) {
	if _, err := Decode([]byte("   \n")); err == nil {
		t.Fatal("expected error for empty manifest")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte("kind: [unclosed")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
