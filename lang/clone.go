package lang

// Clone returns a deep copy of the AST rooted at n. Mutation analysis
// edits clones so the pristine tree stays installable.
func Clone(n Node) Node {
	if n == nil {
		return nil
	}
	cloneList := func(ns []Node) []Node {
		if ns == nil {
			return nil
		}
		out := make([]Node, len(ns))
		for i, c := range ns {
			out[i] = Clone(c)
		}
		return out
	}
	switch x := n.(type) {
	case *Module:
		return &Module{Name: x.Name, Decls: cloneList(x.Decls)}
	case *FnDecl:
		params := make([]Param, len(x.Params))
		copy(params, x.Params)
		return &FnDecl{Line: x.Line, Name: x.Name, Params: params, Ret: x.Ret, Body: cloneList(x.Body)}
	case *ClassDecl:
		ms := make([]*FnDecl, len(x.Methods))
		for i, m := range x.Methods {
			ms[i] = Clone(m).(*FnDecl)
		}
		return &ClassDecl{Line: x.Line, Name: x.Name, Methods: ms}
	case *IfStmt:
		return &IfStmt{Line: x.Line, Cond: Clone(x.Cond), Then: cloneList(x.Then), Else: cloneList(x.Else)}
	case *WhileStmt:
		return &WhileStmt{Line: x.Line, Cond: Clone(x.Cond), Body: cloneList(x.Body)}
	case *ForStmt:
		return &ForStmt{Line: x.Line, Var: x.Var, Iter: Clone(x.Iter), Body: cloneList(x.Body)}
	case *ReturnStmt:
		return &ReturnStmt{Line: x.Line, Value: Clone(x.Value)}
	case *RaiseStmt:
		return &RaiseStmt{Line: x.Line, Value: Clone(x.Value)}
	case *BreakStmt:
		return &BreakStmt{Line: x.Line}
	case *ContinueStmt:
		return &ContinueStmt{Line: x.Line}
	case *TryStmt:
		hs := make([]*ExceptClause, len(x.Handler))
		for i, h := range x.Handler {
			hs[i] = &ExceptClause{Line: h.Line, TypeName: h.TypeName, Bind: h.Bind, Body: cloneList(h.Body)}
		}
		return &TryStmt{Line: x.Line, Body: cloneList(x.Body), Handler: hs}
	case *AssignStmt:
		return &AssignStmt{Line: x.Line, Target: Clone(x.Target), Value: Clone(x.Value)}
	case *ExprStmt:
		return &ExprStmt{Line: x.Line, X: Clone(x.X)}
	case *IntLit:
		return &IntLit{Line: x.Line, Value: x.Value}
	case *FloatLit:
		return &FloatLit{Line: x.Line, Value: x.Value}
	case *StringLit:
		return &StringLit{Line: x.Line, Value: x.Value}
	case *BoolLit:
		return &BoolLit{Line: x.Line, Value: x.Value}
	case *NoneLit:
		return &NoneLit{Line: x.Line}
	case *ListLit:
		return &ListLit{Line: x.Line, Elems: cloneList(x.Elems)}
	case *MapLit:
		return &MapLit{Line: x.Line, Keys: cloneList(x.Keys), Values: cloneList(x.Values)}
	case *Name:
		return &Name{Line: x.Line, Name: x.Name}
	case *BinOp:
		return &BinOp{Line: x.Line, Op: x.Op, L: Clone(x.L), R: Clone(x.R)}
	case *UnaryOp:
		return &UnaryOp{Line: x.Line, Op: x.Op, X: Clone(x.X)}
	case *Compare:
		return &Compare{Line: x.Line, Op: x.Op, L: Clone(x.L), R: Clone(x.R)}
	case *BoolOp:
		return &BoolOp{Line: x.Line, Op: x.Op, L: Clone(x.L), R: Clone(x.R)}
	case *Call:
		names := make([]string, len(x.Names))
		copy(names, x.Names)
		return &Call{Line: x.Line, Fn: Clone(x.Fn), Args: cloneList(x.Args), Names: names, Kwargs: cloneList(x.Kwargs)}
	case *Attr:
		return &Attr{Line: x.Line, X: Clone(x.X), Name: x.Name}
	case *Index:
		return &Index{Line: x.Line, X: Clone(x.X), Index: Clone(x.Index)}
	}
	return nil
}
