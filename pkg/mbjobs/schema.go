package mbjobs

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/perjahn/multibackup/pkg/mbtypes"
)

// descriptor is one entry of "backupjobs" as it appears in a job file
type descriptor struct {
	Type             string                 `json:"type" yaml:"type" validate:"required"`
	Name             string                 `json:"name" yaml:"name" validate:"required"`
	ZipPassword      string                 `json:"zippassword" yaml:"zippassword" validate:"required"`
	ConnectionString string                 `json:"connectionstring" yaml:"connectionstring"`
	Collection       string                 `json:"collection" yaml:"collection"`
	Url              string                 `json:"url" yaml:"url"`
	Key              string                 `json:"key" yaml:"key"`
	Tags             map[string]interface{} `json:"tags" yaml:"tags"`
	TargetServer     string                 `json:"targetserver" yaml:"targetserver"`
	TargetAccount    string                 `json:"targetaccount" yaml:"targetaccount"`
	TargetCertfile   string                 `json:"targetcertfile" yaml:"targetcertfile"`
}

// document is one job file
type document struct {
	Tags       map[string]interface{} `json:"tags" yaml:"tags"`
	BackupJobs []descriptor           `json:"backupjobs" yaml:"backupjobs"`
}

// schemas maps each kind to the Source built from a descriptor. The kind's
// required fields are the `validate` tags of that Source.
var schemas = map[mbtypes.Kind]func(d descriptor) mbtypes.Source{
	mbtypes.KindSqlServer: func(d descriptor) mbtypes.Source {
		return &mbtypes.SqlServer{ConnectionString: d.ConnectionString}
	},
	mbtypes.KindMongoDB: func(d descriptor) mbtypes.Source {
		return &mbtypes.MongoDB{ConnectionString: d.ConnectionString}
	},
	mbtypes.KindCosmosDB: func(d descriptor) mbtypes.Source {
		return &mbtypes.CosmosDB{ConnectionString: d.ConnectionString, Collection: d.Collection}
	},
	mbtypes.KindAzureStorage: func(d descriptor) mbtypes.Source {
		return &mbtypes.AzureStorage{Url: d.Url, Key: d.Key}
	},
}

func newValidator() *validator.Validate {
	validate := validator.New()

	// report fields by the names users write in job files
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

// missingField returns "" if everything required is present
func missingField(validate *validator.Validate, obj interface{}) (string, error) {
	err := validate.Struct(obj)
	if err == nil {
		return "", nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrs) == 0 {
		return "", err
	}

	return validationErrs[0].Field(), nil
}

func stringifyTags(tags map[string]interface{}) map[string]string {
	out := map[string]string{}
	for key, value := range tags {
		out[key] = fmt.Sprint(value)
	}
	return out
}
