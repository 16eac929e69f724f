// Package stratum implements the Stratum v1 JSON-RPC mining protocol:
// request/response framing, job/difficulty notifications, and pool
// failover. Grounded on original_source's mineos-stratum/src/{protocol,
// connection,pool}.rs.
package stratum

import (
	"encoding/json"
	"fmt"

	"github.com/coreminer/kawpowd/core/types"
)

// Stratum method names, per spec.md §6.
const (
	MethodSubscribe     = "mining.subscribe"
	MethodAuthorize     = "mining.authorize"
	MethodSubmit        = "mining.submit"
	MethodNotify        = "mining.notify"
	MethodSetDifficulty = "mining.set_difficulty"
	MethodSetExtraNonce = "mining.set_extranonce"
	MethodPing          = "mining.ping"
	MethodGetVersion    = "mining.get_version"
	MethodReconnect     = "client.reconnect"
	MethodShowMessage   = "client.show_message"
)

// Request is a Stratum JSON-RPC request or notification. Notifications
// sent by us (submit, authorize, subscribe) always carry an ID; ID is nil
// only for messages we decode that turn out to be pool notifications.
type Request struct {
	ID     *json.RawMessage `json:"id"`
	Method string           `json:"method"`
	Params []interface{}    `json:"params"`
}

// Response is a Stratum JSON-RPC response.
type Response struct {
	ID     *json.RawMessage `json:"id"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *RPCError        `json:"error,omitempty"`
}

// RPCError is the [code, message, data] triple a pool returns on failure.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("stratum error %d: %s", e.Code, e.Message)
}

// Notification is an inbound message with no ID — mining.notify,
// mining.set_difficulty, client.reconnect and similar pool-initiated
// messages.
type Notification struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// SubscribeResult holds the decoded second and third elements of a
// mining.subscribe response array: [subscriptions, extranonce1, extranonce2_size].
type SubscribeResult struct {
	ExtraNonce1     string
	ExtraNonce2Size int
}

func intID(id int) *json.RawMessage {
	raw := json.RawMessage(fmt.Sprintf("%d", id))
	return &raw
}

// NewSubscribeRequest builds a mining.subscribe request.
func NewSubscribeRequest(id int, userAgent string, sessionID string) Request {
	params := []interface{}{userAgent}
	if sessionID != "" {
		params = append(params, sessionID)
	}
	return Request{ID: intID(id), Method: MethodSubscribe, Params: params}
}

// NewAuthorizeRequest builds a mining.authorize request.
func NewAuthorizeRequest(id int, username, password string) Request {
	return Request{ID: intID(id), Method: MethodAuthorize, Params: []interface{}{username, password}}
}

// NewSubmitRequest builds a mining.submit request from a validated share.
func NewSubmitRequest(id int, share types.Share) Request {
	params := []interface{}{share.WorkerName, share.JobID, share.ExtraNonce2, share.NTime, share.Nonce}
	if share.VersionRollingMask != nil {
		params = append(params, *share.VersionRollingMask)
	}
	return Request{ID: intID(id), Method: MethodSubmit, Params: params}
}

// ParseMiningJob decodes mining.notify params into a MiningJob, per
// spec.md §6's 9-element layout.
func ParseMiningJob(params []interface{}) (*types.MiningJob, error) {
	if len(params) < 9 {
		return nil, fmt.Errorf("stratum: invalid mining.notify params length %d", len(params))
	}
	jobID, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("stratum: invalid job_id")
	}
	prevHash, ok := params[1].(string)
	if !ok {
		return nil, fmt.Errorf("stratum: invalid prev_hash")
	}
	coinbase1, ok := params[2].(string)
	if !ok {
		return nil, fmt.Errorf("stratum: invalid coinbase1")
	}
	coinbase2, ok := params[3].(string)
	if !ok {
		return nil, fmt.Errorf("stratum: invalid coinbase2")
	}
	branchesRaw, ok := params[4].([]interface{})
	if !ok {
		return nil, fmt.Errorf("stratum: invalid merkle_branches")
	}
	branches := make([]string, len(branchesRaw))
	for i, b := range branchesRaw {
		s, ok := b.(string)
		if !ok {
			return nil, fmt.Errorf("stratum: invalid merkle branch at %d", i)
		}
		branches[i] = s
	}
	version, ok := params[5].(string)
	if !ok {
		return nil, fmt.Errorf("stratum: invalid version")
	}
	nbits, ok := params[6].(string)
	if !ok {
		return nil, fmt.Errorf("stratum: invalid nbits")
	}
	ntime, ok := params[7].(string)
	if !ok {
		return nil, fmt.Errorf("stratum: invalid ntime")
	}
	clean, ok := params[8].(bool)
	if !ok {
		return nil, fmt.Errorf("stratum: invalid clean_jobs")
	}

	return &types.MiningJob{
		JobID:          jobID,
		PrevHash:       prevHash,
		Coinbase1:      coinbase1,
		Coinbase2:      coinbase2,
		MerkleBranches: branches,
		Version:        version,
		NBits:          nbits,
		NTime:          ntime,
		CleanJobs:      clean,
	}, nil
}

// ParseSubscribeResult decodes a mining.subscribe response's result array.
func ParseSubscribeResult(result json.RawMessage) (*SubscribeResult, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(result, &arr); err != nil {
		return nil, fmt.Errorf("stratum: invalid subscribe result: %w", err)
	}
	if len(arr) < 2 {
		return nil, fmt.Errorf("stratum: subscribe result too short")
	}
	var extraNonce1 string
	if err := json.Unmarshal(arr[1], &extraNonce1); err != nil {
		return nil, fmt.Errorf("stratum: invalid extranonce1: %w", err)
	}
	size := 4
	if len(arr) > 2 {
		if err := json.Unmarshal(arr[2], &size); err != nil {
			return nil, fmt.Errorf("stratum: invalid extranonce2_size: %w", err)
		}
	}
	return &SubscribeResult{ExtraNonce1: extraNonce1, ExtraNonce2Size: size}, nil
}
