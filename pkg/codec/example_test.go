package codec_test

import (
	"bytes"
	"fmt"
	"log"

	"github.com/TravisTheTechie/Cashbox/pkg/codec"
)

// ExampleRecordCodec_basic demonstrates encoding a log header and a record header
func ExampleRecordCodec_basic() {
	c := codec.NewRecordCodec()

	var stream bytes.Buffer
	stream.Write(c.EncodeStreamHeader(codec.StreamHeader{Version: codec.StreamVersion}))

	payload := []byte(`{"name":"bandit"}`)
	header, err := c.EncodeRecordHeader(codec.NewStoreHeader("Customer", "42", len(payload)))
	if err != nil {
		log.Fatal(err)
	}
	stream.Write(header)
	stream.Write(payload)

	r := bytes.NewReader(stream.Bytes())
	if _, err := c.ReadStreamHeader(r); err != nil {
		log.Fatal(err)
	}

	decoded, err := c.DecodeRecordHeader(r)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Action: %s\n", decoded.Action)
	fmt.Printf("Table: %s\n", decoded.Table)
	fmt.Printf("Key: %s\n", decoded.Key)
	fmt.Printf("Payload bytes: %d\n", decoded.RecordSize)

	// Output:
	// Action: store
	// Table: Customer
	// Key: 42
	// Payload bytes: 17
}
