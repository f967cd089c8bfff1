// vmicctl is the operator CLI for a running vmicd. Triggers go over the
// message bus; the command then waits for the pipeline outcome and prints it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/vmiclabs/vmic-core/internal/protocol"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "speak":
		err = cmdSpeak(os.Args[2:])
	case "record":
		err = cmdRecord(os.Args[2:])
	case "cancel":
		err = cmdCancel(os.Args[2:])
	case "devices":
		err = cmdDevices(os.Args[2:])
	case "runs":
		err = cmdRuns(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: vmicctl <command> [flags]

commands:
  speak    synthesize text and play it to the target devices
  record   capture a clip, transcribe it and speak the transcript
  cancel   abort the in-flight pipeline run
  devices  list the daemon's audio devices
  runs     list recent pipeline runs
  version  print the version`)
}

func commonFlags(fs *flag.FlagSet) (*string, *time.Duration) {
	server := fs.String("server", nats.DefaultURL, "NATS server URL")
	timeout := fs.Duration("timeout", 60*time.Second, "How long to wait for the outcome")
	return server, timeout
}

func cmdSpeak(args []string) error {
	fs := flag.NewFlagSet("speak", flag.ExitOnError)
	server, timeout := commonFlags(fs)
	voice := fs.String("voice", "", "Voice to synthesize with (empty uses the daemon default)")
	targets := fs.String("targets", "", "Comma-separated output device IDs")
	noCleanup := fs.Bool("no-cleanup", false, "Skip text cleanup for this run")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return fmt.Errorf("nothing to say: pass the text after the flags")
	}

	trigger := protocol.SpeakTrigger{
		RequestID: uuid.NewString(),
		Text:      text,
		Voice:     *voice,
		Targets:   splitTargets(*targets),
	}
	if *noCleanup {
		disabled := false
		trigger.Cleanup = &disabled
	}
	return publishAndWait(*server, protocol.SubjectTriggerSpeak, trigger, trigger.RequestID, *timeout)
}

func cmdRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	server, timeout := commonFlags(fs)
	voice := fs.String("voice", "", "Voice to synthesize with (empty uses the daemon default)")
	targets := fs.String("targets", "", "Comma-separated output device IDs")
	duration := fs.Duration("duration", 0, "Capture duration (0 uses the daemon default)")
	fs.Parse(args)

	trigger := protocol.RecordTrigger{
		RequestID:  uuid.NewString(),
		DurationMS: int(duration.Milliseconds()),
		Voice:      *voice,
		Targets:    splitTargets(*targets),
	}
	return publishAndWait(*server, protocol.SubjectTriggerRecord, trigger, trigger.RequestID, *timeout)
}

func cmdCancel(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	server, _ := commonFlags(fs)
	fs.Parse(args)

	conn, err := nats.Connect(*server, nats.Name("vmicctl"))
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(protocol.CancelTrigger{RequestID: uuid.NewString()})
	if err != nil {
		return err
	}
	if err := conn.Publish(protocol.SubjectTriggerCancel, data); err != nil {
		return err
	}
	return conn.Flush()
}

func publishAndWait(server, subject string, trigger any, requestID string, timeout time.Duration) error {
	conn, err := nats.Connect(server, nats.Name("vmicctl"))
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	outcomes := make(chan protocol.Outcome, 4)
	sub, err := conn.Subscribe(protocol.SubjectPipelineOutcome, func(msg *nats.Msg) {
		var out protocol.Outcome
		if json.Unmarshal(msg.Data, &out) == nil {
			outcomes <- out
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to outcomes: %w", err)
	}
	defer sub.Drain()

	data, err := json.Marshal(trigger)
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return err
	}
	if err := conn.Flush(); err != nil {
		return err
	}

	deadline := time.After(timeout)
	for {
		select {
		case out := <-outcomes:
			if out.RequestID != requestID {
				continue
			}
			printOutcome(out)
			if !out.Success {
				return fmt.Errorf("%s at %s stage", out.ErrorKind, out.Stage)
			}
			return nil
		case <-deadline:
			return fmt.Errorf("no outcome within %s (trigger may have been dropped)", timeout)
		}
	}
}

func printOutcome(out protocol.Outcome) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func cmdDevices(args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	daemon := fs.String("daemon", "http://localhost:8080", "Daemon HTTP base URL")
	fs.Parse(args)
	return httpDump(*daemon + "/v1/devices")
}

func cmdRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	daemon := fs.String("daemon", "http://localhost:8080", "Daemon HTTP base URL")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	fs.Parse(args)
	return httpDump(fmt.Sprintf("%s/v1/runs?limit=%d", *daemon, *limit))
}

func httpDump(url string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func splitTargets(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
