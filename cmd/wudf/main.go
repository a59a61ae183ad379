// Command wudf inspects and exercises UDF artifacts from the command line.
//
//	wudf describe -path f.wasm
//	wudf eval -path f.wasm -class Upper [arg ...]
//
// Arguments to eval are parsed according to the declared evaluate signature.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/box"
	"github.com/colbridge/wudf/loader"
	"github.com/colbridge/wudf/sig"
	"github.com/colbridge/wudf/udf"
	"github.com/colbridge/wudf/wvm"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "describe":
		err = describe(os.Args[2:])
	case "eval":
		err = eval(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wudf: %s\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: wudf describe|eval [options] [arg ...]")
	os.Exit(2)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if !debug {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func describe(args []string) error {
	flags := flag.NewFlagSet("describe", flag.ExitOnError)
	path := flags.String("path", "", "artifact to load")
	debug := flags.Bool("debug", false, "enable debug logging")
	flags.Parse(args)
	if *path == "" {
		return fmt.Errorf("describe: -path required")
	}
	logger, err := newLogger(*debug)
	if err != nil {
		return err
	}
	env, err := wvm.GetEnv()
	if err != nil {
		return err
	}
	ctx := context.Background()
	ld := loader.New(env, *path, logger)
	if err := ld.Init(ctx); err != nil {
		return err
	}
	defer ld.Close(ctx)
	for _, name := range ld.ClassNames() {
		c, err := ld.GetClass(name)
		if err != nil {
			return err
		}
		fmt.Printf("class %s\n", name)
		for _, m := range c.Methods() {
			fmt.Printf("  %s %s\n", m.Name, m.Sig)
		}
	}
	return nil
}

func eval(args []string) error {
	flags := flag.NewFlagSet("eval", flag.ExitOnError)
	path := flags.String("path", "", "artifact to load")
	class := flags.String("class", "", "UDF class to evaluate")
	debug := flags.Bool("debug", false, "enable debug logging")
	flags.Parse(args)
	if *path == "" || *class == "" {
		return fmt.Errorf("eval: -path and -class required")
	}
	logger, err := newLogger(*debug)
	if err != nil {
		return err
	}
	env, err := wvm.GetEnv()
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, err := udf.New(ctx, env, udf.Options{
		Path:      *path,
		ClassName: *class,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer c.Close(ctx)
	if err := c.Prepare(ctx); err != nil {
		return err
	}
	vals, err := parseArgs(ctx, c.Facility(), c.ArgTypes(), flags.Args())
	if err != nil {
		return err
	}
	out, err := c.Evaluate(ctx, vals)
	if err != nil {
		return err
	}
	fmt.Println(render(c.Facility(), out))
	return nil
}

func parseArgs(ctx context.Context, fac *box.Facility, types []sig.TypeDesc, args []string) ([]wudf.Value, error) {
	if len(args) != len(types) {
		return nil, fmt.Errorf("evaluate takes %d arguments, got %d", len(types), len(args))
	}
	vals := make([]wudf.Value, len(args))
	for i, arg := range args {
		v, err := parseArg(ctx, fac, types[i], arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func parseArg(ctx context.Context, fac *box.Facility, d sig.TypeDesc, arg string) (wudf.Value, error) {
	if d.Array || d.Kind == wudf.KindObject {
		return wudf.Value{}, fmt.Errorf("cannot parse a %s argument from text", d.Kind)
	}
	if d.Kind == wudf.KindString {
		ref, err := fac.NewString(ctx, arg)
		if err != nil {
			return wudf.Value{}, err
		}
		return wudf.RefValue(wudf.KindString, ref), nil
	}
	var v wudf.Value
	switch d.Kind {
	case wudf.KindBoolean:
		b, err := strconv.ParseBool(arg)
		if err != nil {
			return wudf.Value{}, err
		}
		v = wudf.BoolValue(b)
	case wudf.KindByte, wudf.KindShort, wudf.KindInt, wudf.KindLong:
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return wudf.Value{}, err
		}
		switch d.Kind {
		case wudf.KindByte:
			v = wudf.ByteValue(int8(n))
		case wudf.KindShort:
			v = wudf.ShortValue(int16(n))
		case wudf.KindInt:
			v = wudf.IntValue(int32(n))
		default:
			v = wudf.LongValue(n)
		}
	case wudf.KindFloat, wudf.KindDouble:
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return wudf.Value{}, err
		}
		if d.Kind == wudf.KindFloat {
			v = wudf.FloatValue(float32(f))
		} else {
			v = wudf.DoubleValue(f)
		}
	default:
		return wudf.Value{}, fmt.Errorf("cannot parse a %s argument", d.Kind)
	}
	if !d.Boxed {
		return v, nil
	}
	ref, err := fac.Box(ctx, v)
	if err != nil {
		return wudf.Value{}, err
	}
	return wudf.RefValue(v.Kind, ref), nil
}

func render(fac *box.Facility, v wudf.Value) string {
	switch v.Kind {
	case wudf.KindString, wudf.KindObject:
		return fac.ToString(v.Ref())
	default:
		return v.String()
	}
}
