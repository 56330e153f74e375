// Package dynamotest provides an in-memory stand-in for the DynamoDB API used
// by backend tests.
//
// It keeps one table keyed by "pk" and evaluates the small expression subset
// the backends emit: terms joined by AND/OR (AND binds tighter, no
// parentheses), where a term is attribute_exists(x), attribute_not_exists(x)
// or a binary comparison (=, <>, <, <=, >, >=).
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Abraxas-365/warden/pkg/storex/storexdynamo"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type Item = storexdynamo.Item

// Fake is safe for concurrent use. Set Err to make every call fail.
type Fake struct {
	mu    sync.Mutex
	table string
	items map[string]Item

	Err error
}

func New(table string) *Fake {
	return &Fake{table: table, items: make(map[string]Item)}
}

// Len reports how many items are stored.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Item returns a copy of the item stored under pk.
func (f *Fake) Item(pk string) (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[pk]
	return maps.Clone(it), ok
}

func (f *Fake) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.TableName); err != nil {
		return nil, err
	}
	it, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(it)}, nil
}

func (f *Fake) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.TableName); err != nil {
		return nil, err
	}
	pk := keyOf(in.Item)
	ok, err := eval(aws.ToString(in.ConditionExpression), f.items[pk], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[pk] = maps.Clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *Fake) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.TableName); err != nil {
		return nil, err
	}
	pk := keyOf(in.Key)
	ok, err := eval(aws.ToString(in.ConditionExpression), f.items[pk], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(f.items, pk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *Fake) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.TableName); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(in.ExclusiveStartKey) > 0 {
		start := keyOf(in.ExclusiveStartKey)
		keys = keys[sort.SearchStrings(keys, start):]
		if len(keys) > 0 && keys[0] == start {
			keys = keys[1:]
		}
	}

	out := &dynamodb.ScanOutput{}
	// Limit caps evaluated items, before the filter, as DynamoDB does.
	if n := int(aws.ToInt32(in.Limit)); n > 0 && n < len(keys) {
		keys = keys[:n]
		out.LastEvaluatedKey = Item{storexdynamo.PartitionKey: storexdynamo.S(keys[n-1])}
	}
	for _, k := range keys {
		it := f.items[k]
		ok, err := eval(aws.ToString(in.FilterExpression), it, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out.Count++
		if in.Select != types.SelectCount {
			out.Items = append(out.Items, maps.Clone(it))
		}
	}
	out.ScannedCount = int32(len(keys))
	return out, nil
}

func (f *Fake) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		var (
			pk, cond string
			names    map[string]string
			values   map[string]types.AttributeValue
		)
		switch {
		case ti.Put != nil:
			pk, cond = keyOf(ti.Put.Item), aws.ToString(ti.Put.ConditionExpression)
			names, values = ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues
		case ti.Delete != nil:
			pk, cond = keyOf(ti.Delete.Key), aws.ToString(ti.Delete.ConditionExpression)
			names, values = ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
		case ti.ConditionCheck != nil:
			pk, cond = keyOf(ti.ConditionCheck.Key), aws.ToString(ti.ConditionCheck.ConditionExpression)
			names, values = ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, errors.New("dynamotest: unsupported transact item")
		}
		ok, err := eval(cond, f.items[pk], names, values)
		if err != nil {
			return nil, err
		}
		code := "None"
		if !ok {
			code, failed = "ConditionalCheckFailed", true
		}
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[keyOf(ti.Put.Item)] = maps.Clone(ti.Put.Item)
		case ti.Delete != nil:
			delete(f.items, keyOf(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *Fake) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(in.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

func (f *Fake) check(table *string) error {
	if f.Err != nil {
		return f.Err
	}
	if aws.ToString(table) != f.table {
		return &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(table))}
	}
	return nil
}

func keyOf(it Item) string {
	return storexdynamo.GetS(it, storexdynamo.PartitionKey)
}

// ── Expressions ─────────────────────────────────────────────────────────

func eval(expr string, it Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, disj := range strings.Split(expr, " OR ") {
		all := true
		for _, term := range strings.Split(disj, " AND ") {
			ok, err := evalTerm(strings.TrimSpace(term), it, names, values)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

var operators = []string{"<=", ">=", "<>", "=", "<", ">"}

func evalTerm(term string, it Item, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if arg, ok := strings.CutPrefix(term, "attribute_exists("); ok {
		_, present := it[resolveName(strings.TrimSuffix(arg, ")"), names)]
		return present, nil
	}
	if arg, ok := strings.CutPrefix(term, "attribute_not_exists("); ok {
		_, present := it[resolveName(strings.TrimSuffix(arg, ")"), names)]
		return !present, nil
	}
	for _, op := range operators {
		lhs, rhs, found := strings.Cut(term, " "+op+" ")
		if !found {
			continue
		}
		l, lok := operand(strings.TrimSpace(lhs), it, names, values)
		r, rok := operand(strings.TrimSpace(rhs), it, names, values)
		if !lok || !rok {
			return false, nil
		}
		c, err := compare(l, r)
		if err != nil {
			return false, err
		}
		switch op {
		case "=":
			return c == 0, nil
		case "<>":
			return c != 0, nil
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return false, fmt.Errorf("dynamotest: unsupported term %q", term)
}

func resolveName(tok string, names map[string]string) string {
	if strings.HasPrefix(tok, "#") {
		return names[tok]
	}
	return tok
}

func operand(tok string, it Item, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, bool) {
	if strings.HasPrefix(tok, ":") {
		v, ok := values[tok]
		return v, ok
	}
	v, ok := it[resolveName(tok, names)]
	return v, ok
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, errors.New("dynamotest: type mismatch")
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, errors.New("dynamotest: type mismatch")
		}
		x, _ := strconv.ParseFloat(av.Value, 64)
		y, _ := strconv.ParseFloat(bv.Value, 64)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("dynamotest: unsupported attribute %T", a)
}

var _ storexdynamo.API = (*Fake)(nil)
