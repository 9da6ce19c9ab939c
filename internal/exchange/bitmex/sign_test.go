package bitmex

import "testing"

// 已知签名向量来自交易所 API 文档
func TestSign(t *testing.T) {
	secret := "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO"

	cases := []struct {
		name    string
		verb    string
		path    string
		expires int64
		body    string
		want    string
	}{
		{
			name:    "GET 无请求体",
			verb:    "GET",
			path:    "/api/v1/instrument",
			expires: 1518064236,
			want:    "c7682d435d0cfe87c16098df34ef2eb5a549d4c5a3c2b1f0f77b8af73423bf00",
		},
		{
			name:    "GET 带查询串",
			verb:    "GET",
			path:    "/api/v1/instrument?filter=%7B%22symbol%22%3A+%22XBTM15%22%7D",
			expires: 1518064237,
			want:    "e2f422547eecb5b3cb29ade2127e21b858b235b386bfa45e1c1756eb3383919f",
		},
		{
			name:    "POST 带请求体",
			verb:    "POST",
			path:    "/api/v1/order",
			expires: 1518064238,
			body:    `{"symbol":"XBTM15","price":219.0,"clOrdID":"mm_bitmex_1a/oemUeQ4CAJZgP3fjHsA","orderQty":98}`,
			want:    "1749cd2ccae4aa49048ae09f0b95110cee706e0944e6a14ad0b3a8cb45bd336b",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Sign(secret, c.verb, c.path, c.expires, c.body)
			if got != c.want {
				t.Errorf("签名不匹配\n期望 %s\n实际 %s", c.want, got)
			}
		})
	}
}
