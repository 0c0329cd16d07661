// twinbud runs and controls a simulated true-wireless earbud.
//
// Each earbud is a daemon holding the feature state, the audio pipeline
// and the link to its peer. The other commands talk to a daemon over its
// control socket.
//
// Usage:
//
//	twinbud config context set left --role=primary --listen=:7100
//	twinbud config context set right --role=secondary --peer=ws://127.0.0.1:7100/peer
//	twinbud run -c left
//	twinbud run -c right
//	twinbud anc on -c left          # both buds switch ANC on
//	twinbud leakthrough mode 3 -c right
//	twinbud status -c right -o table
//
// Configuration is stored in ~/.twinbud/twinbud/
package main

import (
	"os"

	"github.com/haivivi/twinbud/cmd/twinbud/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
