package rpc

import "testing"

func TestJSONCodecRoundtrip(t *testing.T) {
	c := jsonCodec{}

	req := &NodeRegistrationRequest{
		NodeID:     "n1",
		Hostname:   "h1",
		Credential: "tok",
	}

	data, err := c.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got := new(NodeRegistrationRequest)
	if err := c.Unmarshal(data, got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.NodeID != req.NodeID || got.Hostname != req.Hostname || got.Credential != req.Credential {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, req)
	}
}

func TestJSONCodecName(t *testing.T) {
	if jsonCodec{}.Name() != codecName {
		t.Fatalf("Name() = %s, want %s", jsonCodec{}.Name(), codecName)
	}
}
