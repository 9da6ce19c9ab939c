package domain

import (
	"fmt"
	"sync"
	"testing"
)

// TestAccountConcurrentDealAndRead 成交写入与余额/仓位读取并发进行时，
// 钱包与仓位不得出现撕裂：锁内写、快照读，终态完全确定。
func TestAccountConcurrentDealAndRead(t *testing.T) {
	inst := testInstrument()
	account := NewAccount(1_000_000, 10, true)
	order := &Order{
		Account:    account,
		Instrument: inst,
		OrderID:    "o-conc",
		Kind:       OrderKindLimit,
		Quantity:   1000,
		Price:      10,
	}

	const fills = 100
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < fills; i++ {
			order.Deal(NewTrade(order, 10, 10, fmt.Sprintf("t%d", i), order.SubmitTime))
		}
	}()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				wallet, available := account.Balances()
				if available > wallet {
					t.Error("可用余额不应超过钱包余额")
					return
				}
				for _, v := range account.PositionViews() {
					if v.Margin < 0 {
						t.Errorf("仓位快照出现负保证金: %+v", v)
						return
					}
				}
			}
		}()
	}

	<-done
	wg.Wait()

	// 终态确定：1000 张 @10 的仓位，钱包只扣了手续费
	wantWallet := 1_000_000 - 1000*10*inst.TakerFee
	if !almostEqual(account.Wallet(), wantWallet) {
		t.Errorf("钱包应为 %v，实际为 %v", wantWallet, account.Wallet())
	}
	pos := account.Position(inst)
	if pos.Quantity != 1000 || pos.OpenPrice != 10 {
		t.Errorf("仓位应为 1000@10，实际为 %v@%v", pos.Quantity, pos.OpenPrice)
	}
}
