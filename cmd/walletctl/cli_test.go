package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestStatusPrintsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"s1","state":"connected","account":"0x00000000000000000000000000000000000000aa","chain_id":1337,"updated_at":"2026-01-02T03:04:05Z"}`))
	}))
	defer server.Close()

	out, err := executeCLI(t, "--url", server.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"state:\tconnected", "chain:\t1337", "0x00000000000000000000000000000000000000aa"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestWriteSendsValueAndTypedArgs(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/contract/write" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"operation":"transfer","tx_hash":"0x01","block_number":3,"gas_used":21000,"confirmed_at":"2026-01-02T03:04:05Z"}`))
	}))
	defer server.Close()

	out, err := executeCLI(t, "--url", server.URL, "--token", "secret",
		"write", "transfer", "0x00000000000000000000000000000000000000bb", "123456789012345678901234567890", "--value", "10")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out, `"block_number": 3`) {
		t.Fatalf("unexpected output %q", out)
	}
	if got["operation"] != "transfer" || got["value"] != "10" {
		t.Fatalf("unexpected request %v", got)
	}
	args, ok := got["args"].([]any)
	if !ok || len(args) != 2 {
		t.Fatalf("unexpected args %v", got["args"])
	}
	if args[0] != "0x00000000000000000000000000000000000000bb" {
		t.Fatalf("address should be sent as a string, got %v", args[0])
	}
	if n, ok := args[1].(json.Number); !ok || n.String() != "123456789012345678901234567890" {
		t.Fatalf("amount should be sent as a number, got %#v", args[1])
	}
}

func TestRoleSwitchSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"ROLE_NOT_REGISTERED","message":"角色未注册"}}`))
	}))
	defer server.Close()

	_, err := executeCLI(t, "--url", server.URL, "role", "switch", "admin")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "ROLE_NOT_REGISTERED") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestParseArgs(t *testing.T) {
	args := parseArgs([]string{"42", "true", `["a","b"]`, "hello", "0xabc", "null", `"quoted"`})
	if n, ok := args[0].(json.Number); !ok || n.String() != "42" {
		t.Fatalf("expected number, got %#v", args[0])
	}
	if args[1] != true {
		t.Fatalf("expected bool, got %#v", args[1])
	}
	if list, ok := args[2].([]any); !ok || len(list) != 2 {
		t.Fatalf("expected list, got %#v", args[2])
	}
	if args[3] != "hello" || args[4] != "0xabc" || args[5] != "null" || args[6] != "quoted" {
		t.Fatalf("unexpected string args %#v", args[3:])
	}
}
