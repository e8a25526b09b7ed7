package algo

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"execution-kit/execerr"
)

// Envelope 算法参数的序列化形式：{"kind": "...", "params": {...}}。
type Envelope struct {
	Kind   Kind            `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// Encode 序列化为 Envelope JSON。
func Encode(s Spec) ([]byte, error) {
	if s == nil {
		return nil, execerr.Invalid("nil algorithm spec")
	}
	params, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: s.Kind(), Params: params})
}

// Decode 解析 Envelope JSON 并校验参数。
func Decode(data []byte) (Spec, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode algorithm envelope: %w", err)
	}
	return FromParams(env.Kind, func(v interface{}) error {
		if len(env.Params) == 0 {
			return nil
		}
		return json.Unmarshal(env.Params, v)
	})
}

// YAMLSpec 配置文件中的算法段：kind 加上对应参数。
type YAMLSpec struct {
	Kind   Kind      `yaml:"kind"`
	Params yaml.Node `yaml:"params"`
}

// Spec 解析为具体算法。
func (y YAMLSpec) Spec() (Spec, error) {
	return FromParams(y.Kind, func(v interface{}) error {
		if y.Params.Kind == 0 {
			return nil
		}
		return y.Params.Decode(v)
	})
}

// FromParams 按 kind 构造具体类型，decode 负责填充参数。
func FromParams(kind Kind, decode func(interface{}) error) (Spec, error) {
	var s Spec
	var err error
	switch kind {
	case KindTWAP:
		var a TWAP
		err = decode(&a)
		s = a
	case KindVWAP:
		var a VWAP
		err = decode(&a)
		s = a
	case KindPOV:
		var a POV
		err = decode(&a)
		s = a
	case KindArrivalPrice:
		var a ArrivalPrice
		err = decode(&a)
		s = a
	case KindImplementationShortfall:
		var a ImplementationShortfall
		err = decode(&a)
		s = a
	default:
		return nil, execerr.Invalid("unknown algorithm kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s params: %v", execerr.ErrInvalidParameter, kind, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
