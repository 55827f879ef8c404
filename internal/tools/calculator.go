package tools

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"

	"github.com/arborhq/arbor/internal/platform"
)

// CalculatorTool evaluates arithmetic expressions. Expressions are parsed as
// Go expressions and reduced over a whitelist of node types, so there is no
// way to reach identifiers, calls, or indexing.
type CalculatorTool struct{}

func (t *CalculatorTool) Metadata() platform.ToolMetadata {
	return platform.ToolMetadata{
		Slug:        "calculator",
		Name:        "Calculator",
		Description: "Evaluates an arithmetic expression with + - * / % and parentheses.",
		Version:     "1.0.0",
		Category:    "utility",
		Mode:        platform.ExecSync,
		InputSchema: []platform.ParamSpec{
			{Name: "expression", Type: platform.TypeString, Required: true, Description: "Arithmetic expression, e.g. (2+3)*4."},
		},
		OutputSchema: []platform.ParamSpec{
			{Name: "result", Type: platform.TypeNumber, Required: true},
		},
		Examples: []string{`{"expression": "(2+3)*4"}`},
	}
}

func (t *CalculatorTool) Execute(_ context.Context, params map[string]any, _ Context) (*platform.ToolResult, error) {
	expression, _ := StringParam(params, "expression")

	node, err := parser.ParseExpr(expression)
	if err != nil {
		return platform.ToolFail(platform.ErrInvalidParams, fmt.Sprintf("invalid expression: %v", err)), nil
	}

	value, err := evalArithmetic(node)
	if err != nil {
		return platform.ToolFail(platform.ErrProcessing, err.Error()), nil
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return platform.ToolFail(platform.ErrProcessing, "expression does not evaluate to a finite number"), nil
	}

	return platform.ToolOK(map[string]any{"result": value}), nil
}

func evalArithmetic(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.INT, token.FLOAT:
			return strconv.ParseFloat(n.Value, 64)
		}
		return 0, fmt.Errorf("unsupported literal %s", n.Value)

	case *ast.ParenExpr:
		return evalArithmetic(n.X)

	case *ast.UnaryExpr:
		value, err := evalArithmetic(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -value, nil
		case token.ADD:
			return value, nil
		}
		return 0, fmt.Errorf("unsupported unary operator %s", n.Op)

	case *ast.BinaryExpr:
		left, err := evalArithmetic(n.X)
		if err != nil {
			return 0, err
		}
		right, err := evalArithmetic(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return left / right, nil
		case token.REM:
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return math.Mod(left, right), nil
		}
		return 0, fmt.Errorf("unsupported operator %s", n.Op)
	}
	return 0, fmt.Errorf("unsupported expression")
}
