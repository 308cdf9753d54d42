package collection

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// WireFormat は書き込み時の日時のワイヤー表現。
type WireFormat string

const (
	WireRFC3339     WireFormat = "rfc3339"      // "2024-03-01T00:00:00Z"
	WireEpochMillis WireFormat = "epoch_millis" // 1709251200000
	WireNative      WireFormat = "native"       // {"seconds": 1709251200, "nanoseconds": 0}
)

// ParseWireFormat は設定値をWireFormatに変換する。
func ParseWireFormat(s string) (WireFormat, error) {
	switch f := WireFormat(s); f {
	case WireRFC3339, WireEpochMillis, WireNative:
		return f, nil
	case "":
		return WireRFC3339, nil
	default:
		return "", fmt.Errorf("unknown timestamp wire format: %q", s)
	}
}

// ToInstant はストアから読んだ日時を正規の表現（UTCのtime.Time）に変換する。
//
// 受け付ける表現:
//   - time.Time, *time.Time
//   - RFC 3339 文字列、日付のみの文字列（"2006-01-02"）
//   - エポックミリ秒（数値または数字だけの文字列、json.Number）
//   - {seconds, nanoseconds} 形式のタイムスタンプオブジェクト
//
// nilと空文字はゼロ値を返す。
func ToInstant(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, nil
		}
		return t.UTC(), nil
	case string:
		return parseInstantString(t)
	case json.Number:
		return parseInstantString(t.String())
	case int:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, fmt.Errorf("invalid epoch value: %v", t)
		}
		return time.UnixMilli(int64(t)).UTC(), nil
	case map[string]any:
		return timestampObject(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported instant type %T", v)
	}
}

func parseInstantString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized instant %q", s)
}

// timestampObject は {seconds, nanoseconds} を変換する。先頭にアンダースコアが付いた形も受け付ける。
func timestampObject(m map[string]any) (time.Time, error) {
	secRaw, ok := m["seconds"]
	if !ok {
		secRaw, ok = m["_seconds"]
	}
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp object has no seconds field")
	}
	nanoRaw, ok := m["nanoseconds"]
	if !ok {
		nanoRaw = m["_nanoseconds"]
	}

	sec, ok := toInt64(secRaw)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid seconds value %v", secRaw)
	}
	nano, _ := toInt64(nanoRaw)
	return time.Unix(sec, nano).UTC(), nil
}

// FromInstant は正規の日時をformatのワイヤー表現に変換する。ゼロ値はnilになる。
func FromInstant(t time.Time, format WireFormat) any {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	switch format {
	case WireEpochMillis:
		return t.UnixMilli()
	case WireNative:
		return map[string]any{
			"seconds":     t.Unix(),
			"nanoseconds": int64(t.Nanosecond()),
		}
	default:
		return t.Format(time.RFC3339Nano)
	}
}
