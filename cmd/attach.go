package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/matchpilot/matchpilot/pkg/protocol"
)

func attachCmd() *cobra.Command {
	var sendStop bool

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Stream live events from a running gateway",
		Long: "Connects to the gateway WebSocket and prints events as they happen. " +
			"Ctrl-C detaches without affecting the run. With --stop, asks the gateway " +
			"to stop the active run and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(sendStop)
		},
	}

	cmd.Flags().BoolVar(&sendStop, "stop", false, "stop the active run instead of streaming")
	return cmd
}

func runAttach(sendStop bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	url := fmt.Sprintf("ws://%s:%d/ws", cfg.Gateway.Host, cfg.Gateway.Port)
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway at %s: %w (is `matchpilot gateway` running?)", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "detach")
	conn.SetReadLimit(1 << 20)

	if cfg.Gateway.Token != "" {
		if err := rpc(ctx, conn, "connect", protocol.MethodConnect, map[string]string{
			"token":  cfg.Gateway.Token,
			"client": "matchpilot-attach",
		}); err != nil {
			return err
		}
	}

	if sendStop {
		if err := rpc(ctx, conn, "stop", protocol.MethodRunStop, map[string]string{"reason": "attach"}); err != nil {
			return err
		}
		fmt.Println("stop requested")
		return nil
	}

	fmt.Printf("attached to %s (Ctrl-C to detach)\n", url)
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ndetached")
				return nil
			}
			return fmt.Errorf("gateway connection lost: %w", err)
		}

		ft, err := protocol.ParseFrameType(raw)
		if err != nil || ft != protocol.FrameTypeEvent {
			continue
		}
		var ev protocol.EventFrame
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		printEvent(ev)
	}
}

// rpc performs one request/response exchange, skipping interleaved events.
func rpc(ctx context.Context, conn *websocket.Conn, id, method string, params interface{}) error {
	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		req.Params = data
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return fmt.Errorf("wait for %s response: %w", method, err)
		}
		ft, err := protocol.ParseFrameType(raw)
		if err != nil || ft != protocol.FrameTypeResponse {
			continue
		}
		var res protocol.ResponseFrame
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
		if res.ID != id {
			continue
		}
		if !res.OK {
			return fmt.Errorf("%s failed: %s (%s)", method, res.Error.Message, res.Error.Code)
		}
		return nil
	}
}

func printEvent(ev protocol.EventFrame) {
	ts := time.Now().Format("15:04:05")
	name := runewidth.FillRight(ev.Event, 24)

	fields, _ := ev.Payload.(map[string]interface{})
	detail := ""
	for _, key := range []string{"reason", "decision", "profile", "at_profile", "where", "sent"} {
		if v, ok := fields[key]; ok {
			detail += fmt.Sprintf(" %s=%v", key, v)
		}
	}
	fmt.Printf("%s  %s%s\n", ts, name, detail)
}
