package main

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"dlog/internal/client"
	"dlog/internal/protocol"
	"dlog/internal/record"
)

const (
	totalRecords  = 1000
	maxBatchSize  = 50
	fetchMaxBytes = 1024 * 1024
)

func main() {
	rand.Seed(time.Now().UnixNano())

	fmt.Println("Connecting to dlog broker...")
	c, err := client.NewClient(client.Config{
		BrokerAddr: "localhost:9092",
		ClientID:   "test-producer-1",
	})
	if err != nil {
		log.Fatalf("connection failed: %v", err)
	}
	defer c.Close()

	addr := protocol.TopicAddress{
		Log:       record.LogID{Namespace: "default", Name: "events"},
		Partition: 0,
	}

	if err := c.CreateLog(addr.Log, 1, 1); err != nil {
		log.Printf("create log (may already exist): %v", err)
	}

	fmt.Printf("\nSTARTING PRODUCE PHASE (target: %d records)\n", totalRecords)
	fmt.Println("---------------------------------------------------")

	var sentOffsets []uint64
	totalSent := 0
	batchCount := 0
	startTime := time.Now()

	for totalSent < totalRecords {
		batchSize := rand.Intn(maxBatchSize) + 1
		if totalSent+batchSize > totalRecords {
			batchSize = totalRecords - totalSent
		}

		builder := client.NewRecordBatchBuilder()
		for i := 0; i < batchSize; i++ {
			msgNum := totalSent + i + 1
			key := []byte(fmt.Sprintf("k-%d", msgNum))
			val := []byte(fmt.Sprintf("hello dlog #%d", msgNum))
			builder.Add(key, val)
		}

		offset, err := c.Produce(addr, builder.Build(), protocol.AcksLeader)
		if err != nil {
			log.Fatalf("produce failed at batch #%d: %v", batchCount, err)
		}

		sentOffsets = append(sentOffsets, offset)
		totalSent += batchSize
		batchCount++

		fmt.Printf("\r[produce] batch #%03d | size: %2d | offset: %4d | progress: %4d/%d",
			batchCount, batchSize, offset, totalSent, totalRecords)

		time.Sleep(2 * time.Millisecond)
	}

	duration := time.Since(startTime)
	fmt.Printf("\n\nproduce complete: %d records in %d batches (%v)\n", totalSent, batchCount, duration)

	fmt.Printf("\nSTARTING CONSUME PHASE\n")
	fmt.Println("---------------------------------------------------")

	successCount := 0
	for i, offset := range sentOffsets {
		data, err := c.Consume(addr, offset, fetchMaxBytes)
		if err != nil {
			log.Printf("consume failed for batch #%d (offset %d): %v", i, offset, err)
			continue
		}
		if len(data) == 0 {
			fmt.Printf("empty response for batch #%d (offset %d)\n", i, offset)
			continue
		}

		recs, err := client.DecodeBatch(data)
		if err != nil {
			fmt.Printf("decode failed for batch #%d: %v\n", i, err)
			continue
		}

		successCount++

		if i == 0 || i == len(sentOffsets)-1 {
			fmt.Printf("[verify] batch #%d (base offset %d) -> decoded %d records:\n", i, offset, len(recs))
			for j, r := range recs {
				if j >= 3 {
					fmt.Printf("    ... (skip %d records)\n", len(recs)-3)
					break
				}
				fmt.Printf("    [%d] offset: %d | key: %-5s | value: %s\n", j, r.Offset, r.Key, r.Value)
			}
		}
	}

	fmt.Println("\nTEST REPORT")
	fmt.Println("---------------------------------------------------")
	fmt.Printf("total batches sent: %d\n", len(sentOffsets))
	fmt.Printf("total batches read: %d\n", successCount)
	if successCount == len(sentOffsets) {
		fmt.Println("result: all batches round-tripped successfully")
	} else {
		fmt.Printf("result: %d failures\n", len(sentOffsets)-successCount)
	}
}
