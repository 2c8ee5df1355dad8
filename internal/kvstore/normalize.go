package kvstore

import (
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// NormalizeItem converts a DynamoDB item to native Go values.
func NormalizeItem(item map[string]types.AttributeValue) domain.Record {
	out := make(domain.Record, len(item))
	for k, v := range item {
		out[k] = Normalize(v)
	}
	return out
}

// Normalize converts an attribute value to a native Go value. Integral numbers
// become int64 and other numbers float64; lists and maps are converted
// recursively.
func Normalize(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return normalizeNumber(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberB:
		return v.Value
	case *types.AttributeValueMemberSS:
		return append([]string(nil), v.Value...)
	case *types.AttributeValueMemberNS:
		nums := make([]any, len(v.Value))
		for i, n := range v.Value {
			nums[i] = normalizeNumber(n)
		}
		return nums
	case *types.AttributeValueMemberBS:
		return append([][]byte(nil), v.Value...)
	case *types.AttributeValueMemberL:
		list := make([]any, len(v.Value))
		for i, e := range v.Value {
			list[i] = Normalize(e)
		}
		return list
	case *types.AttributeValueMemberM:
		m := make(map[string]any, len(v.Value))
		for k, e := range v.Value {
			m[k] = Normalize(e)
		}
		return m
	}
	return nil
}

func normalizeNumber(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}
