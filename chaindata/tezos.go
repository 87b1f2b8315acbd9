package chaindata

import "encoding/json"

// TezosDecoder decodes the Tezos indexer's smart-contract event payload:
// {timestamp, addr, msgtype, msgcontent}, the only chain original_source
// wires up (tezos_indexer_response.py).
type TezosDecoder struct{}

func (TezosDecoder) Decode(raw json.RawMessage) (*SmartContractEvent, error) {
	var payload struct {
		Timestamp  float64 `json:"timestamp"`
		Addr       string  `json:"addr"`
		MsgType    string  `json:"msgtype"`
		MsgContent string  `json:"msgcontent"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &SmartContractEvent{
		Timestamp:  payload.Timestamp,
		Addr:       payload.Addr,
		MsgType:    payload.MsgType,
		MsgContent: payload.MsgContent,
	}, nil
}
