package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func valueOut(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr(v)}}
}

type countingGetter struct {
	value string
	err   error
	calls int
}

func (g *countingGetter) GetParameter(context.Context, string) (string, error) {
	g.calls++
	return g.value, g.err
}

func TestGetParameter_ResolvesUnderPrefix(t *testing.T) {
	api := &fakeAPI{getOut: valueOut("secret")}
	client, err := New(api, "/courier-dispatch/prod/")
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), "whatsapp-token")
	require.NoError(t, err)
	require.Equal(t, "secret", v)
	require.Equal(t, "/courier-dispatch/prod/whatsapp-token", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_AbsoluteNameIgnoresPrefix(t *testing.T) {
	api := &fakeAPI{getOut: valueOut("secret")}
	client, err := New(api, "/courier-dispatch/prod")
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "/shared/slack-token")
	require.NoError(t, err)
	require.Equal(t, "/shared/slack-token", *api.lastIn.Name)
}

func TestGetParameter_Failures(t *testing.T) {
	cases := []struct {
		name    string
		client  *Client
		param   string
		wantErr string
	}{
		{name: "missing value", client: &Client{api: &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{}}}}, param: "p", wantErr: "has no value"},
		{name: "api error", client: &Client{api: &fakeAPI{getErr: errors.New("boom")}}, param: "p", wantErr: "boom"},
		{name: "not initialized", client: &Client{}, param: "p", wantErr: "not initialized"},
		{name: "empty name", client: &Client{api: &fakeAPI{}}, param: "  ", wantErr: "required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.client.GetParameter(context.Background(), tc.param)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestNew_ValidatesAPI(t *testing.T) {
	_, err := New(nil, "")
	require.Error(t, err)
}

func TestToken(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr string
	}{
		{name: "json", raw: `{"token":"abc"}`, want: "abc"},
		{name: "plain", raw: " abc\n", want: "abc"},
		{name: "empty json token", raw: `{"token":""}`, wantErr: "is empty"},
		{name: "broken json", raw: `{"token":`, wantErr: "decode"},
		{name: "blank", raw: "  ", wantErr: "is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Token(context.Background(), &countingGetter{value: tc.raw}, "t")
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, v)
		})
	}
}

func TestSecret_FetchesOnce(t *testing.T) {
	g := &countingGetter{value: `{"token":"abc"}`}
	s := NewSecret(g, "t")

	for i := 0; i < 3; i++ {
		v, err := s.Value(context.Background())
		require.NoError(t, err)
		require.Equal(t, "abc", v)
	}
	require.Equal(t, 1, g.calls)
}

func TestSecret_RemembersFailure(t *testing.T) {
	g := &countingGetter{err: errors.New("denied")}
	s := NewSecret(g, "t")

	_, err := s.Value(context.Background())
	require.ErrorContains(t, err, "denied")
	_, err = s.Value(context.Background())
	require.ErrorContains(t, err, "denied")
	require.Equal(t, 1, g.calls)
}

func TestStatic(t *testing.T) {
	v, err := Static("abc").Value(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", v)

	_, err = Static("").Value(context.Background())
	require.Error(t, err)
}
