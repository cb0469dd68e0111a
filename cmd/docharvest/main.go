package main

import (
	"docharvest/cmd/docharvest/commands"
	"docharvest/lib/osutil"
	"docharvest/lib/telemetry"
)

func main() {
	ctx := osutil.SignalContext()

	t, err := telemetry.SetupFromEnv(ctx, "docharvest")
	if err != nil {
		osutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(ctx)

	commands.ExecuteContext(ctx)
}
