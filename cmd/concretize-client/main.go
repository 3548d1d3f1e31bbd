package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/vjranagit/spack-sub003/internal/service"
)

func main() {
	var target string
	var unify string
	var timeout time.Duration
	flag.StringVar(&target, "target", "127.0.0.1:50051", "gRPC server address")
	flag.StringVar(&unify, "unify", "", "unification mode: full, none or when_possible (server default when empty)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "request deadline")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: concretize-client [flags] SPEC...")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		panic(fmt.Errorf("dial %s: %w", target, err))
	}
	defer conn.Close()

	req, err := service.NewRequest(flag.Args(), unify)
	if err != nil {
		panic(fmt.Errorf("build request: %w", err))
	}
	resp, err := service.NewClient(conn).Concretize(ctx, req)
	if err != nil {
		st := status.Convert(err)
		fmt.Fprintf(os.Stderr, "Concretize error: code=%s message=%q\n", st.Code(), st.Message())
		os.Exit(1)
	}
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		panic(fmt.Errorf("encode response: %w", err))
	}
	fmt.Println(string(out))
}
