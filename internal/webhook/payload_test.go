package webhook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

const fullData = `"slug":"toyota-corolla-2022","title":"Toyota Corolla","brand":"Toyota","model":"Corolla","year":2022,"price":"119,900"`

func TestDecodeUpsert(t *testing.T) {
	t.Parallel()

	body := `{"crmid":"CRM-1","data":{` + fullData + `,"km":"45000","condition":"אפס קמ","hand":"שנייה","categories":["sedan"]},
		"images":[{"image_url":"https://cdn.example.com/2.jpg","position":"2","alt_text":"side"}]}`

	cmd, err := Decode([]byte(body))
	require.NoError(t, err)
	up, ok := cmd.(UpsertCommand)
	require.True(t, ok)
	require.Equal(t, "CRM-1", up.CRM())
	require.Equal(t, "toyota-corolla-2022", *up.Fields.Slug)
	require.Equal(t, 2022, *up.Fields.Year)
	require.InDelta(t, 119900.0, *up.Fields.Price, 0.001)
	require.Equal(t, 45000, *up.Fields.Km)
	require.Equal(t, inventory.CanonicalNewCondition, *up.Fields.Condition)
	require.Equal(t, 2, *up.Fields.Hand)
	require.Equal(t, []string{"sedan"}, up.Fields.Categories)
	require.Nil(t, up.Fields.IsPublished)
	require.NotEmpty(t, up.Fields.RawData)
	require.Len(t, up.Images, 1)
	require.Equal(t, 2, up.Images[0].Position)
	require.Equal(t, "side", *up.Images[0].AltText)
	require.Empty(t, up.Warnings)
}

func TestDecodeCarriesExplicitPublish(t *testing.T) {
	t.Parallel()

	cmd, err := Decode([]byte(`{"crmid":"CRM-1","data":{` + fullData + `,"is_published":true}}`))
	require.NoError(t, err)
	up, ok := cmd.(UpsertCommand)
	require.True(t, ok)
	require.NotNil(t, up.Fields.IsPublished)
	require.True(t, *up.Fields.IsPublished)
}

func TestDecodeSoldShortCircuit(t *testing.T) {
	t.Parallel()

	cmd, err := Decode([]byte(`{"crmid":"CRM-9","data":{"is_published":false}}`))
	require.NoError(t, err)
	require.Equal(t, SoldCommand{CRMID: "CRM-9"}, cmd)
}

func TestDecodeNumericCRMID(t *testing.T) {
	t.Parallel()

	cmd, err := Decode([]byte(`{"crmid":12345,"data":{"is_published":false}}`))
	require.NoError(t, err)
	require.Equal(t, "12345", cmd.CRM())
}

func TestDecodeValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{name: "not json", body: `{`, msg: "invalid JSON payload"},
		{name: "missing data", body: `{"crmid":"CRM-1"}`, msg: "Missing required field: data"},
		{name: "null data", body: `{"crmid":"CRM-1","data":null}`, msg: "Missing required field: data"},
		{name: "missing crmid", body: `{"data":{"is_published":false}}`, msg: "Missing required field: crmid"},
		{name: "blank crmid", body: `{"crmid":"  ","data":{}}`, msg: "Missing required field: crmid"},
		{name: "missing fields", body: `{"crmid":"CRM-1","data":{"slug":"a","title":"","year":2020}}`,
			msg: "Missing required fields for upsert: title, brand, model, price"},
		{name: "bad year", body: `{"crmid":"CRM-1","data":{"slug":"s","title":"t","brand":"b","model":"m","price":1,"year":"soon"}}`,
			msg: "year must be an integer"},
		{name: "unknown top-level key", body: `{"crmid":"CRM-1","data":{},"extra":1}`, msg: "invalid JSON payload"},
		{name: "bad images", body: `{"crmid":"CRM-1","data":{` + fullData + `},"images":{}}`, msg: "images must be an array"},
		{name: "fractional position", body: `{"crmid":"CRM-1","data":{` + fullData + `},"images":[{"image_url":"u","position":1.5}]}`,
			msg: "images[0].position must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.body))
			var vErr *inventory.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			require.Contains(t, vErr.Error(), tt.msg)
		})
	}
}

func TestDecodeToleratesLegacyKeys(t *testing.T) {
	t.Parallel()

	cmd, err := Decode([]byte(`{"action":"upsert","vehicleId":"x","crmid":"CRM-1","data":{` + fullData + `}}`))
	require.NoError(t, err)
	require.IsType(t, UpsertCommand{}, cmd)
}

func TestDecodeMainImage(t *testing.T) {
	t.Parallel()

	t.Run("synthesized at position one", func(t *testing.T) {
		t.Parallel()
		cmd, err := Decode([]byte(`{"crmid":"C","main_image_url":"https://cdn.example.com/main.jpg","data":{` + fullData + `},
			"images":[{"image_url":"https://cdn.example.com/2.jpg","position":2}]}`))
		require.NoError(t, err)
		images := cmd.(UpsertCommand).Images
		require.Len(t, images, 2)
		require.Equal(t, inventory.ImageRequest{URL: "https://cdn.example.com/main.jpg", Position: 1}, images[0])
	})

	t.Run("explicit position one wins", func(t *testing.T) {
		t.Parallel()
		cmd, err := Decode([]byte(`{"crmid":"C","data":{` + fullData + `,"main_image_url":"https://cdn.example.com/main.jpg"},
			"images":[{"image_url":"https://cdn.example.com/1.jpg","position":1}]}`))
		require.NoError(t, err)
		images := cmd.(UpsertCommand).Images
		require.Len(t, images, 1)
		require.Equal(t, "https://cdn.example.com/1.jpg", images[0].URL)
	})

	t.Run("images inside data", func(t *testing.T) {
		t.Parallel()
		cmd, err := Decode([]byte(`{"crmid":"C","data":{` + fullData + `,
			"images":[{"image_url":"https://cdn.example.com/3.jpg","position":3}]}}`))
		require.NoError(t, err)
		images := cmd.(UpsertCommand).Images
		require.Len(t, images, 1)
		require.Equal(t, 3, images[0].Position)
	})
}

func TestDecodeHand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    *int
		warning bool
	}{
		{raw: `3`, want: intPtr(3)},
		{raw: `"ראשונה"`, want: intPtr(1)},
		{raw: `" עשירית "`, want: intPtr(10)},
		{raw: `"4"`, want: intPtr(4)},
		{raw: `"לא ידוע"`, warning: true},
		{raw: `2.5`, warning: true},
		{raw: `null`},
	}
	for _, tt := range tests {
		got, warnings := decodeHand([]byte(tt.raw), nil)
		require.Equal(t, tt.want, got, tt.raw)
		require.Equal(t, tt.warning, len(warnings) == 1, tt.raw)
	}
}

func TestDecodeUnparsableHandIsOmitted(t *testing.T) {
	t.Parallel()

	cmd, err := Decode([]byte(`{"crmid":"C","data":{` + fullData + `,"hand":"הרבה"}}`))
	require.NoError(t, err)
	up := cmd.(UpsertCommand)
	require.Nil(t, up.Fields.Hand)
	require.Len(t, up.Warnings, 1)
}

func TestDecodeCRMIDOnly(t *testing.T) {
	t.Parallel()

	id, err := DecodeCRMID([]byte(`{"crmid":" CRM-7 "}`))
	require.NoError(t, err)
	require.Equal(t, "CRM-7", id)

	_, err = DecodeCRMID([]byte(`{}`))
	var vErr *inventory.ValidationError
	require.True(t, errors.As(err, &vErr))
}

func TestDecodeDeleteTarget(t *testing.T) {
	t.Parallel()

	target, err := DecodeDeleteTarget([]byte(`{"crmid":123}`))
	require.NoError(t, err)
	require.Equal(t, DeleteTarget{CRMID: "123"}, target)

	target, err = DecodeDeleteTarget([]byte(`{"vehicleId":" 550e8400-e29b-41d4-a716-446655440000 "}`))
	require.NoError(t, err)
	require.Equal(t, "550e8400-e29b-41d4-a716-446655440000", target.VehicleID)

	_, err = DecodeDeleteTarget([]byte(`{"crmid":""}`))
	var vErr *inventory.ValidationError
	require.True(t, errors.As(err, &vErr))
	require.Contains(t, vErr.Msg, "vehicleId")
}

func intPtr(v int) *int { return &v }
