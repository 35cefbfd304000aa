package main

import (
	"fmt"
	"os"
)

func writeTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(brokerTemplate), 0o600)
}

const brokerTemplate = `id = "broker.local"
main_addr = ":8001"
heartbeat_addr = ":8002"
# admin_addr = "127.0.0.1:8090"
# admin_token = "change-me"
admin_cors_origins = ["http://localhost:3000"]

heartbeat_interval = "3s"
reconnect_pause = "3s"
# read_timeout = "30s"
# write_timeout = "10s"

[accept_backoff]
initial_delay = "100ms"
multiplier = 2.0
max_delay = "5s"
jitter = true

[authority]
spid = "trustedbroker-sim"
# 32-byte hex; leave unset to generate an ephemeral key at startup
# master_key = ""
# allowed_measurements = ["<64 hex chars>"]
require_attestation = true
revoke_after = 0
`
