package looperd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func statusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "query a running looperd serve instance's track and transport state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}

	cmd.Flags().String("addr", "http://localhost"+defaultHTTPAddr, "base address of a running looperd serve's HTTP endpoint")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Fprintf(os.Stderr, "error binding status flags: %v\n", err)
	}
	return cmd
}

func runStatus() error {
	addr := viper.GetString("addr")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/status")
	if err != nil {
		return fmt.Errorf("looperd status: querying %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("looperd status: %s returned %s", addr, resp.Status)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("looperd status: decoding response: %w", err)
	}

	fmt.Printf("master: set=%v duration=%.3fs bpm=%d\n", status.Transport.MasterIsSet, status.Transport.MasterDuration, status.Transport.MasterBPM)
	for _, tr := range status.Tracks {
		fmt.Printf("  track %d: state=%s duration=%.3fs divider=%d effects=%d\n", tr.Index, tr.State, tr.LoopDuration, tr.Divider, tr.EffectCount)
	}
	return nil
}
