package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"overlay/internal/client"
	"overlay/internal/domain"
	"overlay/internal/esearch"
	"overlay/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4000", "address of an overlay peer to connect to")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	api, conn, err := client.Connect(*addr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *addr, err)
	}
	defer conn.Close()

	currentAddr := *addr
	fmt.Printf("overlay interactive client. Connected to %s\n", currentAddr)
	fmt.Println("Available commands: insert/update/remove/presence/state/use/exit")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(fmt.Sprintf("overlay[%s]> ", currentAddr))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println("Aborted")
				continue
			}
			break
		}
		line.AppendHistory(input)

		args := strings.Fields(strings.TrimSpace(input))
		if len(args) == 0 {
			continue
		}
		cmd := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()

		switch cmd {
		case "insert":
			if len(args) < 3 {
				fmt.Println("Usage: insert <key> <string-value>")
				break
			}
			entry := domain.Entry{
				Key:       args[1],
				Value:     domain.NewStringValue(args[2]),
				Type:      domain.ValueDynamic,
				Timestamp: time.Now().UnixNano(),
			}
			env, err := api.Dispatch(ctx, &wire.Envelope{Kind: wire.KindClientInsert, Payload: wire.ClientInsertPayload{Entries: []domain.Entry{entry}}})
			reportAck(env, err, time.Since(start))

		case "update":
			if len(args) < 3 {
				fmt.Println("Usage: update <key> <string-value>")
				break
			}
			entry := domain.Entry{
				Key:       args[1],
				Value:     domain.NewStringValue(args[2]),
				Type:      domain.ValueDynamic,
				Timestamp: time.Now().UnixNano(),
			}
			env, err := api.Dispatch(ctx, &wire.Envelope{Kind: wire.KindClientUpdate, Payload: wire.ClientUpdatePayload{Entries: []domain.Entry{entry}}})
			reportAck(env, err, time.Since(start))

		case "remove":
			if len(args) < 2 {
				fmt.Println("Usage: remove <key>")
				break
			}
			env, err := api.Dispatch(ctx, &wire.Envelope{Kind: wire.KindClientRemove, Payload: wire.ClientRemovePayload{Keys: []string{args[1]}}})
			reportAck(env, err, time.Since(start))

		case "presence":
			if len(args) < 2 {
				fmt.Println("Usage: presence <key> [maxResults]")
				break
			}
			query := esearch.NewFindQuery(esearch.Presence{Key: args[1]}, esearch.EvaluationInfo{AllInformationPresent: true})
			if len(args) >= 3 {
				if n, perr := strconv.Atoi(args[2]); perr == nil {
					query.Scope = esearch.ScopeSome
					query.SomeCount = n
				}
			}
			env, err := api.Dispatch(ctx, &wire.Envelope{Kind: wire.KindClientFind, Payload: wire.ClientFindPayload{Query: query}})
			reportFind(env, err, time.Since(start))

		case "state":
			env, err := api.Dispatch(ctx, &wire.Envelope{Kind: wire.KindClientState, Payload: wire.ClientStatePayload{}})
			if err != nil {
				fmt.Printf("State failed: %v\n", err)
				break
			}
			reply, ok := env.Payload.(wire.ClientStateReplyPayload)
			if !ok {
				fmt.Println("State returned an unexpected payload")
				break
			}
			fmt.Printf("Peer state: %s | latency=%s\n", reply.State, time.Since(start))

		case "use":
			if len(args) < 2 {
				fmt.Println("Usage: use <addr>")
				break
			}
			newAPI, newConn, err := client.Connect(args[1])
			if err != nil {
				fmt.Printf("failed to connect to %s: %v\n", args[1], err)
				break
			}
			conn.Close()
			api = newAPI
			conn = newConn
			currentAddr = args[1]
			fmt.Printf("Switched connection to %s\n", currentAddr)

		case "exit", "quit":
			fmt.Println("Bye!")
			cancel()
			return

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}

		cancel()
	}
}

func reportAck(env *wire.Envelope, err error, latency time.Duration) {
	if err != nil {
		fmt.Printf("request failed: %v | latency=%s\n", err, latency)
		return
	}
	ack, ok := env.Payload.(wire.ClientAckPayload)
	if !ok {
		fmt.Println("request returned an unexpected payload")
		return
	}
	if ack.Err != "" {
		fmt.Printf("request rejected: %s | latency=%s\n", ack.Err, latency)
		return
	}
	fmt.Printf("ok | latency=%s\n", latency)
}

func reportFind(env *wire.Envelope, err error, latency time.Duration) {
	if err != nil {
		fmt.Printf("find failed: %v | latency=%s\n", err, latency)
		return
	}
	resp, ok := env.Payload.(wire.ClientFindResponsePayload)
	if !ok {
		fmt.Println("find returned an unexpected payload")
		return
	}
	if resp.Err != "" {
		fmt.Printf("find rejected: %s | latency=%s\n", resp.Err, latency)
		return
	}
	fmt.Printf("find matched %d peer(s) | latency=%s\n", len(resp.Results), latency)
	for _, r := range resp.Results {
		fmt.Printf("  - %s (attrs=%d)\n", r.Node.String(), len(r.Attributes))
	}
}
