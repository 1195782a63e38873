package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"gfscore/apis"
)

func postJSON(client *http.Client, addr apis.ServerAddress, route string, req, reply interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: encoding %s request: %w", route, err)
	}
	resp, err := client.Post("http://"+string(addr)+route, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", apis.ErrTimeout, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: %s returned HTTP %d", route, resp.StatusCode)
	}
	if reply == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(reply); err != nil {
		return fmt.Errorf("rpc: decoding %s reply: %w", route, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
