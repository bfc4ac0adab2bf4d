package chat

import (
	"encoding/json"
	"strings"

	"PChat/module/chat/model"
	"PChat/tools/errs"
)

// Frame 线上帧：{"type": "message:send", "data": ...}，一条 websocket 文本消息一帧
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrBadFrame.WrapMsg("unmarshal frame: " + err.Error())
	}
	f.Type = strings.TrimSpace(f.Type)
	if f.Type == "" {
		return nil, errs.ErrBadFrame.WrapMsg("frame without type")
	}
	return f, nil
}

func EncodeEvent(ev model.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeData 把 data 解到 T；data 缺失或形状不对都算 BadFrame
func DecodeData[T any](f *Frame) (T, error) {
	var v T
	if len(f.Data) == 0 {
		return v, errs.ErrBadFrame.WrapMsg("missing data", "type", f.Type)
	}
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return v, errs.ErrBadFrame.WrapMsg("decode data: "+err.Error(), "type", f.Type)
	}
	return v, nil
}

// DecodeText login / message:send 的 data 是裸字符串；
// 也接受 {"username": "..."} / {"content": "..."} 这样的对象写法
func DecodeText(f *Frame, field string) (string, error) {
	if len(f.Data) == 0 {
		return "", errs.ErrBadFrame.WrapMsg("missing data", "type", f.Type)
	}
	var s string
	if err := json.Unmarshal(f.Data, &s); err == nil {
		return s, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(f.Data, &obj); err != nil {
		return "", errs.ErrBadFrame.WrapMsg("data must be a string or object", "type", f.Type)
	}
	raw, ok := obj[field]
	if !ok {
		return "", errs.ErrBadFrame.WrapMsg("missing field", "type", f.Type, "field", field)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errs.ErrBadFrame.WrapMsg("field must be a string", "type", f.Type, "field", field)
	}
	return s, nil
}
