package store

import (
	"testing"
	"time"
)

func TestOpen_SeedsInitialModel(t *testing.T) {
	s, err := Open(t.TempDir(), []int{3, 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	version, ok := s.Latest()
	if !ok || version != "v1" {
		t.Fatalf("Expected seeded v1. Got: %q (ok=%v)", version, ok)
	}

	m, err := s.Get("v1")
	if err != nil {
		t.Fatalf("Get(v1) failed: %v", err)
	}
	shape := m.Shape()
	if len(shape) != 2 || shape[0] != 3 || shape[1] != 2 {
		t.Errorf("Expected seed shape [3 2]. Got: %v", shape)
	}
	for i, layer := range m.Weights {
		for j, v := range layer {
			if v != 0 {
				t.Errorf("Expected all-zeros seed, found %g at [%d][%d]", v, i, j)
			}
		}
	}
}

func TestOpen_KeepsExistingModels(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, []int{3})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Put("v2", &Model{Version: "v2", Weights: [][]float64{{1, 2, 3}}, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Put(v2) failed: %v", err)
	}

	// Reopening must not re-seed or disturb stored versions
	s2, err := Open(dir, []int{9, 9})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	version, _ := s2.Latest()
	if version != "v2" {
		t.Errorf("Expected latest v2 after reopen. Got: %q", version)
	}
}

func TestPut_RefusesOverwrite(t *testing.T) {
	s, err := Open(t.TempDir(), []int{3})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Put("v1", &Model{Version: "v1", Weights: [][]float64{{1, 1, 1}}}); err == nil {
		t.Error("Expected Put on an existing version to fail")
	}

	// The original payload survives
	m, err := s.Get("v1")
	if err != nil {
		t.Fatalf("Get(v1) failed: %v", err)
	}
	if m.Weights[0][0] != 0 {
		t.Errorf("Expected the seed payload to be untouched. Got: %g", m.Weights[0][0])
	}
}

func TestPut_RejectsInvalidVersion(t *testing.T) {
	s, err := Open(t.TempDir(), []int{3})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for _, bad := range []string{"", "1", "v0", "v-1", "v1.2", "latest"} {
		if err := s.Put(bad, &Model{Version: bad}); err == nil {
			t.Errorf("Expected Put(%q) to fail", bad)
		}
	}
}

func TestLatestAndList(t *testing.T) {
	s, err := Open(t.TempDir(), []int{2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.Put("v2", &Model{Version: "v2", Weights: [][]float64{{1, 1}}})
	s.Put("v3", &Model{Version: "v3", Weights: [][]float64{{2, 2}}})

	version, ok := s.Latest()
	if !ok || version != "v3" {
		t.Errorf("Expected latest v3. Got: %q", version)
	}

	list := s.List()
	want := []string{"v1", "v2", "v3"}
	if len(list) != len(want) {
		t.Fatalf("Expected %d versions. Got: %v", len(want), list)
	}
	for i, v := range want {
		if list[i] != v {
			t.Errorf("Expected version %s at position %d. Got: %s", v, i, list[i])
		}
	}
}

func TestVersionArithmetic(t *testing.T) {
	if next, err := NextVersion("v1"); err != nil || next != "v2" {
		t.Errorf("Expected NextVersion(v1) = v2. Got: %q (%v)", next, err)
	}
	if next, err := NextVersion("v41"); err != nil || next != "v42" {
		t.Errorf("Expected NextVersion(v41) = v42. Got: %q (%v)", next, err)
	}
	if _, err := NextVersion("model-1"); err == nil {
		t.Error("Expected NextVersion on a malformed version to fail")
	}

	if n, ok := ParseVersionNumber("v7"); !ok || n != 7 {
		t.Errorf("Expected ParseVersionNumber(v7) = 7. Got: %d (ok=%v)", n, ok)
	}
	for _, bad := range []string{"v0", "v", "7", "v7x", ""} {
		if _, ok := ParseVersionNumber(bad); ok {
			t.Errorf("Expected ParseVersionNumber(%q) to reject", bad)
		}
	}
}
