package synth

import (
	"encoding/json"
	"fmt"

	"github.com/xtls/xray-core/infra/conf"

	// Import distro to register all protocols/transports for Build()
	_ "github.com/xtls/xray-core/main/distro/all"
)

// validateOutbound round-trips the generated outbound through the engine's
// own config loader. Anything the engine would refuse at startup is caught
// here instead, while the connect attempt can still fail cleanly.
func validateOutbound(ob *Outbound) error {
	data, err := json.Marshal(ob)
	if err != nil {
		return err
	}

	var detour conf.OutboundDetourConfig
	if err := json.Unmarshal(data, &detour); err != nil {
		return fmt.Errorf("outbound does not match engine schema: %w", err)
	}

	if _, err := detour.Build(); err != nil {
		return err
	}
	return nil
}
