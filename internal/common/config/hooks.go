package config

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/G-Research/maestro/pkg/params"
	"github.com/G-Research/maestro/pkg/peer"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		DurationPolicyHookFunc(),
		MessageSizeHookFunc(),
		RoleHookFunc(),
	)),
}

func DurationPolicyHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(params.DurationPolicy{}) {
			return data, nil
		}
		return params.ParseDuration(fmt.Sprintf("%v", data))
	}
}

func MessageSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(params.MessageSize{}) {
			return data, nil
		}
		return params.ParseMessageSize(fmt.Sprintf("%v", data))
	}
}

func RoleHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(peer.Other) {
			return data, nil
		}
		return peer.ParseRole(data.(string))
	}
}
