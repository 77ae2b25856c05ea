package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/autostack/pkg/stores"
)

// ExampleOpen demonstrates opening a journal and recording an operation.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	op := &stores.Operation{ID: "op-001", Stack: "org/web/dev", Kind: "update"}
	if err := store.CreateOperation(ctx, op); err != nil {
		log.Fatal(err)
	}
	if err := store.CompleteOperation(ctx, op.ID, stores.OperationStatusSucceeded, nil, nil); err != nil {
		log.Fatal(err)
	}

	got, err := store.GetOperation(ctx, op.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(got.Stack, got.Kind, got.Status)
	// Output: org/web/dev update succeeded
}
