package client

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"dlog/internal/protocol"
	"dlog/internal/record"
)

type Config struct {
	BrokerAddr string
	ClientID   string
}

type Client struct {
	Config Config
	conn   net.Conn
}

func NewClient(cfg Config) (*Client, error) {
	conn, err := net.DialTimeout("tcp", cfg.BrokerAddr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Client{Config: cfg, conn: conn}, nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Produce appends a record batch to a log partition under the given ack
// level and returns the base offset it was assigned. acks=None returns as
// soon as the broker assigns an offset; acks=Leader waits for the broker to
// flush it locally; acks=All waits for the partition's write quorum.
func (c *Client) Produce(addr protocol.TopicAddress, batch []byte, acks protocol.Acks) (uint64, error) {
	reqBody := append(protocol.EncodeTopicAddress(addr), byte(acks))
	reqBody = append(reqBody, batch...)

	if err := c.sendRequest(protocol.ApiKeyProduce, reqBody); err != nil {
		return 0, err
	}

	respBody, err := c.readResponse()
	if err != nil {
		return 0, err
	}
	if len(respBody) < 8 {
		return 0, fmt.Errorf("invalid response size: %d", len(respBody))
	}

	return binary.BigEndian.Uint64(respBody), nil
}

// Consume fetches up to maxBytes of encoded record batches starting at
// offset from a log partition.
func (c *Client) Consume(addr protocol.TopicAddress, offset uint64, maxBytes uint32) ([]byte, error) {
	trailer := make([]byte, 12)
	binary.BigEndian.PutUint64(trailer[0:8], offset)
	binary.BigEndian.PutUint32(trailer[8:12], maxBytes)

	reqBody := append(protocol.EncodeTopicAddress(addr), trailer...)

	if err := c.sendRequest(protocol.ApiKeyConsume, reqBody); err != nil {
		return nil, err
	}
	return c.readResponse()
}

type createLogRequest struct {
	Namespace         string
	Name              string
	PartitionCount    uint32
	ReplicationFactor uint32
}

// CreateLog asks the cluster to create a new log with the given partition
// count and replication factor.
func (c *Client) CreateLog(log record.LogID, partitionCount, replicationFactor uint32) error {
	body, err := json.Marshal(createLogRequest{
		Namespace:         log.Namespace,
		Name:              log.Name,
		PartitionCount:    partitionCount,
		ReplicationFactor: replicationFactor,
	})
	if err != nil {
		return err
	}
	if err := c.sendRequest(protocol.ApiKeyCreateLog, body); err != nil {
		return err
	}
	_, err = c.readResponse()
	return err
}

type deleteLogRequest struct {
	Namespace string
	Name      string
}

// DeleteLog asks the cluster to remove a log and all of its partitions.
func (c *Client) DeleteLog(log record.LogID) error {
	body, err := json.Marshal(deleteLogRequest{Namespace: log.Namespace, Name: log.Name})
	if err != nil {
		return err
	}
	if err := c.sendRequest(protocol.ApiKeyDeleteLog, body); err != nil {
		return err
	}
	_, err = c.readResponse()
	return err
}

// ListLogs returns every log known to the cluster.
func (c *Client) ListLogs() ([]record.LogID, error) {
	if err := c.sendRequest(protocol.ApiKeyListLogs, nil); err != nil {
		return nil, err
	}
	respBody, err := c.readResponse()
	if err != nil {
		return nil, err
	}

	var entries []deleteLogRequest
	if err := json.Unmarshal(respBody, &entries); err != nil {
		return nil, err
	}

	logs := make([]record.LogID, len(entries))
	for i, e := range entries {
		logs[i] = record.LogID{Namespace: e.Namespace, Name: e.Name}
	}
	return logs, nil
}

// sendRequest encodes and writes the request packet.
func (c *Client) sendRequest(apiKey int16, body []byte) error {
	// Header + Body
	// Request Header v1: ApiKey(2)+Ver(2)+CorrID(4)+ClientIDLen(2)+ClientIDStr

	clientIDLen := len(c.Config.ClientID)
	headerSize := 2 + 2 + 4 + 2 + clientIDLen

	totalSize := headerSize + len(body)

	buf := make([]byte, 4+totalSize) // 4 is for Framing Size

	binary.BigEndian.PutUint32(buf[0:4], uint32(totalSize))

	offset := 4
	binary.BigEndian.PutUint16(buf[offset:], uint16(apiKey)) // ApiKey
	offset += 2
	binary.BigEndian.PutUint16(buf[offset:], 0) // ApiVersion (v0)
	offset += 2
	binary.BigEndian.PutUint32(buf[offset:], 1) // CorrelationID (fixed)
	offset += 4
	binary.BigEndian.PutUint16(buf[offset:], uint16(clientIDLen)) // ClientID Len
	offset += 2
	copy(buf[offset:], c.Config.ClientID)
	offset += clientIDLen

	copy(buf[offset:], body)

	_, err := c.conn.Write(buf)
	return err
}

// readResponse reads the framed response packet.
func (c *Client) readResponse() ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(c.conn, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := int32(binary.BigEndian.Uint32(sizeBuf[:]))

	data := make([]byte, size)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, err
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("response too short")
	}
	// data[0:4] is the correlation ID, unused by this simple client.

	return data[4:], nil
}
