// Package storexdynamo holds the DynamoDB plumbing shared by the document
// store backends: client construction, the narrow API surface they use, and
// attribute helpers.
//
// Both backends use a single-table layout keyed by a string partition key
// "pk". Entity items and uniqueness-lock items share the table and are told
// apart by key prefix.
package storexdynamo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Abraxas-365/warden/pkg/config"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// BackendName identifies DynamoDB in storage errors.
const BackendName = "dynamodb"

// PartitionKey is the table's hash key attribute.
const PartitionKey = "pk"

// API is the subset of *dynamodb.Client the backends call.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// NewClient loads AWS configuration for cfg. Static keys are used when set,
// otherwise the default credential chain applies.
func NewClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if !cfg.AccessKey.IsEmpty() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey.Reveal(), cfg.SecretKey.Reveal(), ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Ping describes the table; a missing table counts as unreachable.
func Ping(ctx context.Context, api API, table string) error {
	_, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	var missing *types.ResourceNotFoundException
	if errors.As(err, &missing) {
		return storex.ErrUnreachable(BackendName, err).WithDetail("table", table)
	}
	return err
}

// ── Errors ──────────────────────────────────────────────────────────────

// ConditionFailed reports a failed ConditionExpression on a single write.
func ConditionFailed(err error) bool {
	var cf *types.ConditionalCheckFailedException
	return errors.As(err, &cf)
}

// TxConditionFailed reports a transaction cancelled by a failed condition
// and returns the index of the first failing item.
func TxConditionFailed(err error) (int, bool) {
	var tc *types.TransactionCanceledException
	if !errors.As(err, &tc) {
		return -1, false
	}
	for i, r := range tc.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			return i, true
		}
	}
	return -1, false
}

// ── Attributes ──────────────────────────────────────────────────────────

type Item = map[string]types.AttributeValue

func Key(pk string) Item {
	return Item{PartitionKey: S(pk)}
}

func S(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func N(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func Bool(v bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: v}
}

// TimeLayout is RFC 3339 with a fixed-width fraction, so string order is
// chronological and range conditions work on S attributes.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func Time(t time.Time) types.AttributeValue {
	return S(t.UTC().Format(TimeLayout))
}

// StringMap stores a map of strings as a nested M attribute.
func StringMap(m map[string]string) types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = S(v)
	}
	return &types.AttributeValueMemberM{Value: out}
}

func GetS(item Item, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func GetN(item Item, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func GetTime(item Item, name string) (time.Time, error) {
	s := GetS(item, name)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func GetStringMap(item Item, name string) map[string]string {
	m, ok := item[name].(*types.AttributeValueMemberM)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(m.Value))
	for k, v := range m.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out[k] = s.Value
		}
	}
	return out
}

// ScanAll pages through a scan and collects every matching item, stopping
// early once limit items are collected (limit <= 0 means no limit).
func ScanAll(ctx context.Context, api API, in *dynamodb.ScanInput, limit int) ([]Item, error) {
	var out []Item
	for {
		page, err := api.Scan(ctx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}
