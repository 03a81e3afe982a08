package dynamo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-reminders/internal/domain"
)

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

// updateExpr is a SET expression plus the placeholders it references.
type updateExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildUpdateExpr converts a map of field->value into a DynamoDB SET expression.
// Fields are emitted in sorted order so the expression is deterministic.
func buildUpdateExpr(updates map[string]interface{}) (updateExpr, error) {
	if len(updates) == 0 {
		return updateExpr{}, fmt.Errorf("no fields to update")
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ue := updateExpr{
		Expr:   "SET ",
		Names:  make(map[string]string, len(keys)),
		Values: make(map[string]types.AttributeValue, len(keys)),
	}
	for i, k := range keys {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(updates[k])
		if err != nil {
			return updateExpr{}, fmt.Errorf("marshal field %s: %w", k, err)
		}
		ue.Names[nameKey] = k
		ue.Values[valueKey] = av
		if i > 0 {
			ue.Expr += ", "
		}
		ue.Expr += nameKey + " = " + valueKey
	}
	return ue, nil
}

// condition builds "attribute_exists AND #cst IN (...)". An empty list only requires the item to exist.
func (ue *updateExpr) condition(keyAttr string, statuses []string) string {
	ue.Names["#ck"] = keyAttr
	cond := "attribute_exists(#ck)"
	if len(statuses) == 0 {
		return cond
	}
	ue.Names["#cst"] = fieldStatus
	cond += " AND #cst IN ("
	for i, s := range statuses {
		ph := fmt.Sprintf(":c%d", i)
		ue.Values[ph] = &types.AttributeValueMemberS{Value: s}
		if i > 0 {
			cond += ", "
		}
		cond += ph
	}
	return cond + ")"
}

// mapConditionErr turns a failed conditional write into domain.ErrConflict.
func mapConditionErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%s: %w", what, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}
